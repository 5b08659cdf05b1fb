package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/calliope-voice/calliope/pkg/media"
	"github.com/calliope-voice/calliope/pkg/voice/wire"
)

// State is the session lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// eventBufferSize bounds the controller's event channel. Events beyond the
// buffer are dropped rather than blocking the session pipeline; amplitude
// samples are the only high-rate producer and tolerate loss.
const eventBufferSize = 256

// Controller owns one live voice session end to end: device acquisition,
// connection setup, capture streaming, playback scheduling, tool dispatch,
// transcript aggregation, and optional recording. A Controller is single-use;
// after Disconnect, create a new one for the next session.
//
// All session activity is observable through Events. Connect and Disconnect
// are safe to call concurrently with each other and with the session's own
// goroutines.
type Controller struct {
	dialer  Dialer
	devices media.Provider
	log     *slog.Logger

	events chan Event

	mu         sync.Mutex
	state      State
	used       bool
	id         string
	conn       Conn
	capture    *CaptureStream
	captureDev media.CaptureDevice
	outputDev  media.OutputDevice
	scheduler  *Scheduler
	recorder   *RecordingMixer
	transcript *TranscriptAggregator
	dispatcher *ToolDispatcher
	playCodec  *FrameCodec
	notes      []string
	calendar   []CalendarEvent
	artifact   *RecordingArtifact
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(log *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// NewController creates a controller in the disconnected state.
func NewController(dialer Dialer, devices media.Provider, opts ...ControllerOption) *Controller {
	c := &Controller{
		dialer:  dialer,
		devices: devices,
		log:     slog.Default(),
		events:  make(chan Event, eventBufferSize),
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the session event channel. The channel is buffered and
// never closed; events are dropped when the consumer falls too far behind.
func (c *Controller) Events() <-chan Event { return c.events }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the session identifier, assigned on Connect.
func (c *Controller) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Transcript returns a copy of the transcript log so far.
func (c *Controller) Transcript() []TranscriptSegment {
	c.mu.Lock()
	t := c.transcript
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	return t.Segments()
}

// Notes returns the notes taken this session.
func (c *Controller) Notes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.notes))
	copy(out, c.notes)
	return out
}

// CalendarEvents returns the appointments scheduled this session.
func (c *Controller) CalendarEvents() []CalendarEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CalendarEvent, len(c.calendar))
	copy(out, c.calendar)
	return out
}

// Recording returns the finalized recording artifact. Nil until the session
// has disconnected, and nil when recording was not enabled.
func (c *Controller) Recording() *RecordingArtifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

// Connect acquires audio devices, opens the live connection, and starts the
// session pipelines. On failure the controller ends in StateError with all
// partially acquired resources released; the returned error carries the
// failure kind. Connect does not bound its own time: pass a ctx with a
// deadline to limit device prompts and the dial.
//
// A concurrent Disconnect aborts the attempt; Connect then returns nil with
// the controller disconnected.
func (c *Controller) Connect(ctx context.Context, cfg SessionConfig) error {
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return NewConnectionError("controller is single-use, create a new one", nil)
	}
	c.used = true
	c.id = uuid.NewString()
	c.state = StateConnecting
	c.mu.Unlock()
	c.emit(StatusChangedEvent{State: StateConnecting})

	log := c.log.With("session_id", c.ID())

	// Device acquisition may block on OS permission prompts.
	capDev, err := c.devices.OpenCapture(ctx)
	if err != nil {
		return c.fail(NewDeviceError("open capture device", err))
	}
	if !c.adopt(func() { c.captureDev = capDev }) {
		_ = capDev.Close()
		return nil
	}

	outDev, err := c.devices.OpenOutput(ctx)
	if err != nil {
		return c.fail(NewDeviceError("open output device", err))
	}
	if !c.adopt(func() { c.outputDev = outDev }) {
		_ = outDev.Close()
		return nil
	}

	// Local pipeline pieces are assembled before dialing so the very first
	// inbound messages already have somewhere to go.
	captureCodec := NewFrameCodec(capDev.SampleRate())
	playCodec := NewFrameCodec(outDev.SampleRate())
	scheduler := NewScheduler(outDev)
	transcript := NewTranscriptAggregator(func(seg TranscriptSegment) {
		c.emit(TranscriptAppendedEvent{Segment: seg})
	})
	dispatcher := NewToolDispatcher(
		func(note string) {
			c.mu.Lock()
			c.notes = append(c.notes, note)
			c.mu.Unlock()
			c.emit(NoteTakenEvent{Note: note})
		},
		func(event CalendarEvent) {
			c.mu.Lock()
			c.calendar = append(c.calendar, event)
			c.mu.Unlock()
			c.emit(EventScheduledEvent{Event: event})
		},
		func(id, name string) {
			c.emit(ToolCallUnhandledEvent{ID: id, Name: name})
		},
		log,
	)

	var recorder *RecordingMixer
	if cfg.Record {
		recorder = NewRecordingMixer(outDev.SampleRate())
		scheduler.SetTap(recorder.AddPlayback)
	}

	var captureTap func([]float32)
	if recorder != nil {
		rate := capDev.SampleRate()
		captureTap = func(block []float32) { recorder.AddCapture(block, rate) }
	}
	capture := NewCaptureStream(capDev, captureCodec, c.currentConn,
		func(rms float64) { c.emit(AmplitudeSampleEvent{RMS: rms}) },
		captureTap, log)

	if !c.adopt(func() {
		c.scheduler = scheduler
		c.transcript = transcript
		c.dispatcher = dispatcher
		c.recorder = recorder
		c.capture = capture
		c.playCodec = playCodec
	}) {
		return nil
	}

	conn, inbound, err := c.dialer.Dial(ctx, BuildSetup(cfg))
	if err != nil {
		return c.fail(NewConnectionError("dial live session", err))
	}
	if !c.adopt(func() {
		c.conn = conn
		c.state = StateConnected
	}) {
		closeConn(conn, log)
		return nil
	}

	if recorder != nil {
		// Playback positions are absolute on the device clock, which has
		// been running since the device opened; anchor the capture head to
		// the same clock now that the session is live.
		recorder.AlignCapture(outDev.Now())
	}
	capture.Start()
	go c.readLoop(inbound, log)

	c.emit(StatusChangedEvent{State: StateConnected})
	log.Info("session connected", "model", cfg.Model)
	return nil
}

// adopt runs apply under the lock if the connect attempt is still live.
// Returns false when a concurrent Disconnect already tore the session down,
// in which case the caller releases whatever it just acquired.
func (c *Controller) adopt(apply func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	apply()
	return true
}

// fail releases everything and moves to StateError. Returns err for the
// Connect caller. A concurrent Disconnect wins: the controller then stays
// disconnected and err is still returned.
func (c *Controller) fail(err *Error) error {
	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		return err
	}
	c.state = StateError
	capture, capDev, outDev, recorder, conn := c.takeResourcesLocked()
	c.mu.Unlock()

	c.release(capture, capDev, outDev, recorder, conn)
	c.emit(StatusChangedEvent{State: StateError, Err: err})
	c.log.Warn("session connect failed", "kind", err.Kind, "error", err)
	return err
}

// Disconnect ends the session from any state, including a connect still in
// flight. Every resource release is attempted independently; the controller
// always ends disconnected. Safe to call repeatedly.
func (c *Controller) Disconnect() {
	c.teardown(nil)
}

func (c *Controller) teardown(cause error) {
	c.mu.Lock()
	if !c.used {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = StateDisconnected
	capture, capDev, outDev, recorder, conn := c.takeResourcesLocked()
	c.mu.Unlock()

	c.release(capture, capDev, outDev, recorder, conn)

	if prev != StateDisconnected {
		c.emit(StatusChangedEvent{State: StateDisconnected, Err: cause})
		c.log.Info("session disconnected", "session_id", c.ID())
	}
}

// takeResourcesLocked swaps the owned resources out of the controller so a
// racing teardown cannot release them twice. Caller holds c.mu.
func (c *Controller) takeResourcesLocked() (*CaptureStream, media.CaptureDevice, media.OutputDevice, *RecordingMixer, Conn) {
	capture, capDev, outDev, recorder, conn := c.capture, c.captureDev, c.outputDev, c.recorder, c.conn
	c.capture, c.captureDev, c.outputDev, c.recorder, c.conn = nil, nil, nil, nil, nil
	return capture, capDev, outDev, recorder, conn
}

func (c *Controller) release(capture *CaptureStream, capDev media.CaptureDevice, outDev media.OutputDevice, recorder *RecordingMixer, conn Conn) {
	// The capture stream owns its device once started; closing the device is
	// how the stream's loop is stopped.
	if capture != nil {
		capture.Stop()
	} else if capDev != nil {
		_ = capDev.Close()
	}
	if outDev != nil {
		_ = outDev.Close()
	}
	if conn != nil {
		closeConn(conn, c.log)
	}
	if recorder != nil {
		artifact := recorder.Finalize()
		c.mu.Lock()
		c.artifact = artifact
		c.mu.Unlock()
	}
}

// closeConn closes a connection if it exposes Close. The Conn contract does
// not require it.
func closeConn(conn Conn, log *slog.Logger) {
	closer, ok := conn.(interface{ Close() error })
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		log.Debug("close live connection", "error", err)
	}
}

func (c *Controller) currentConn() Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// readLoop drains the inbound channel until it closes. A terminal transport
// error tears the session down with that error as the cause; a clean remote
// close tears it down with no cause. Either way the controller ends
// disconnected and resources are released exactly as in Disconnect.
func (c *Controller) readLoop(inbound <-chan Inbound, log *slog.Logger) {
	for in := range inbound {
		if in.Err != nil {
			log.Warn("live connection failed", "error", in.Err)
			c.teardown(NewConnectionError("live connection", in.Err))
			return
		}
		if in.Msg != nil {
			c.handleMessage(in.Msg, log)
		}
	}
	c.teardown(nil)
}

func (c *Controller) handleMessage(msg *wire.ServerMessage, log *slog.Logger) {
	c.mu.Lock()
	dispatcher := c.dispatcher
	transcript := c.transcript
	scheduler := c.scheduler
	playCodec := c.playCodec
	conn := c.conn
	c.mu.Unlock()

	switch {
	case msg.ToolCall != nil:
		if dispatcher == nil || conn == nil {
			return
		}
		if err := dispatcher.Dispatch(msg.ToolCall.FunctionCalls, conn.Send); err != nil {
			log.Warn("tool response send failed", "error", err)
		}

	case msg.ServerContent != nil:
		sc := msg.ServerContent
		if transcript != nil {
			if sc.InputTranscription != nil {
				transcript.AddUserText(sc.InputTranscription.Text)
			}
			if sc.OutputTranscription != nil {
				transcript.AddAgentFragment(sc.OutputTranscription.Text)
			}
		}
		if scheduler == nil || playCodec == nil {
			return
		}
		for _, blob := range sc.AudioParts() {
			samples, err := playCodec.Decode(blob.Data)
			if err != nil {
				// One bad chunk must not stall playback of the rest.
				log.Warn("dropping undecodable audio chunk", "error", err)
				continue
			}
			if _, err := scheduler.Schedule(samples); err != nil {
				log.Warn("playback scheduling failed", "error", err)
			}
		}
	}
}

// emit delivers an event without ever blocking the session pipeline.
func (c *Controller) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
