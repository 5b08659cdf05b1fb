package voice

import (
	"log/slog"
	"sync"

	"github.com/calliope-voice/calliope/pkg/voice/wire"
)

// ToolHandler executes one tool call and returns the result string sent back
// to the remote model.
type ToolHandler func(args map[string]any) string

// ToolDispatcher maps named remote tool invocations to local handlers and
// answers each call id exactly once on the session connection.
type ToolDispatcher struct {
	log      *slog.Logger
	handlers map[string]ToolHandler

	onUnhandled func(id, name string)

	mu       sync.Mutex
	answered map[string]struct{}
}

// NewToolDispatcher builds a dispatcher with the builtin handlers wired to
// the given sinks. onNote and onEvent fire before the tool response is sent;
// onUnhandled (may be nil) reports calls with no registered handler.
func NewToolDispatcher(onNote func(string), onEvent func(CalendarEvent), onUnhandled func(id, name string), log *slog.Logger) *ToolDispatcher {
	if log == nil {
		log = slog.Default()
	}
	d := &ToolDispatcher{
		log:         log,
		handlers:    make(map[string]ToolHandler),
		onUnhandled: onUnhandled,
		answered:    make(map[string]struct{}),
	}
	d.handlers[wire.ToolTakeNote] = func(args map[string]any) string {
		if onNote != nil {
			onNote(stringArg(args, "content"))
		}
		return "Note saved."
	}
	d.handlers[wire.ToolScheduleAppointment] = func(args map[string]any) string {
		event := CalendarEvent{
			Title:       stringArg(args, "title"),
			StartTime:   stringArg(args, "startTime"),
			EndTime:     stringArg(args, "endTime"),
			Description: stringArg(args, "description"),
		}
		if event.EndTime == "" {
			event.EndTime = event.StartTime
		}
		if onEvent != nil {
			onEvent(event)
		}
		return "Appointment scheduled."
	}
	return d
}

// Dispatch answers every call in one inbound message. Responses are sent
// independently, one message per call, and may interleave with other
// outbound traffic. An unknown tool name gets a default success response —
// the remote service, not this client, decides whether to retry — and is
// reported via onUnhandled rather than silently dropped. A call id that was
// already answered this session is a protocol violation and is skipped.
func (d *ToolDispatcher) Dispatch(calls []wire.FunctionCall, send func(wire.ClientMessage) error) error {
	var firstErr error
	for _, call := range calls {
		if !d.markAnswered(call.ID) {
			d.log.Warn("duplicate tool call id, already answered", "id", call.ID, "name", call.Name)
			continue
		}

		handler, ok := d.handlers[call.Name]
		result := "ok"
		if ok {
			result = handler(call.Args)
		} else {
			d.log.Warn("unhandled tool call", "id", call.ID, "name", call.Name)
			if d.onUnhandled != nil {
				d.onUnhandled(call.ID, call.Name)
			}
		}

		msg := wire.ClientMessage{
			ToolResponse: &wire.ToolResponse{
				FunctionResponses: []wire.FunctionResponse{{
					ID:       call.ID,
					Name:     call.Name,
					Response: map[string]any{"result": result},
				}},
			},
		}
		if err := send(msg); err != nil && firstErr == nil {
			firstErr = NewConnectionError("send tool response", err)
		}
	}
	return firstErr
}

// markAnswered records the id and reports whether it was fresh. Calls
// without an id cannot be correlated and are always answered.
func (d *ToolDispatcher) markAnswered(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.answered[id]; dup {
		return false
	}
	d.answered[id] = struct{}{}
	return true
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
