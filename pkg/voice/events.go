package voice

// Speaker identifies a transcript party.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// TranscriptSegment is one entry in the append-only conversation log.
// User segments arrive final; agent segments arrive as provisional fragments.
type TranscriptSegment struct {
	Speaker Speaker
	Text    string
	Final   bool
}

// CalendarEvent is produced by the scheduleAppointment tool. Times are kept
// as the strings the remote call supplied.
type CalendarEvent struct {
	Title       string
	StartTime   string
	EndTime     string
	Description string
}

// Event is the tagged union emitted on the controller's event channel. All
// session side effects are observable only through these events.
type Event interface {
	sessionEventType() string
}

// StatusChangedEvent reports a state transition. Err is set when the
// transition was caused by a failure.
type StatusChangedEvent struct {
	State State
	Err   error
}

func (StatusChangedEvent) sessionEventType() string { return "status_changed" }

// AmplitudeSampleEvent carries the RMS amplitude of one captured block,
// intended to drive a level meter.
type AmplitudeSampleEvent struct {
	RMS float64
}

func (AmplitudeSampleEvent) sessionEventType() string { return "amplitude_sample" }

// TranscriptAppendedEvent reports a new transcript segment. Consumers render
// the full ordered log; earlier segments are never replaced.
type TranscriptAppendedEvent struct {
	Segment TranscriptSegment
}

func (TranscriptAppendedEvent) sessionEventType() string { return "transcript_appended" }

// NoteTakenEvent reports a note saved via the takeNote tool.
type NoteTakenEvent struct {
	Note string
}

func (NoteTakenEvent) sessionEventType() string { return "note_taken" }

// EventScheduledEvent reports a calendar event created via the
// scheduleAppointment tool.
type EventScheduledEvent struct {
	Event CalendarEvent
}

func (EventScheduledEvent) sessionEventType() string { return "event_scheduled" }

// ToolCallUnhandledEvent reports a tool call whose name had no registered
// handler. The call was still answered with a default success response.
type ToolCallUnhandledEvent struct {
	ID   string
	Name string
}

func (ToolCallUnhandledEvent) sessionEventType() string { return "tool_call_unhandled" }
