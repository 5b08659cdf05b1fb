// Command calliope runs a live voice-agent session from the terminal: it
// captures microphone audio, plays the agent's replies, prints the rolling
// transcript, and on exit optionally summarizes and archives the session.
//
// Environment variables:
//
//	GEMINI_API_KEY  - required, authenticates the live session
//	DATABASE_URL    - optional, Postgres DSN for the session archive
//	LOG_LEVEL       - optional, debug|info|warn|error (default info)
//
// A .env file in the working directory is loaded first; real environment
// variables win.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/calliope-voice/calliope/internal/dotenv"
	"github.com/calliope-voice/calliope/pkg/docs"
	"github.com/calliope-voice/calliope/pkg/media"
	"github.com/calliope-voice/calliope/pkg/store"
	"github.com/calliope-voice/calliope/pkg/voice"
	"github.com/calliope-voice/calliope/pkg/voice/gemini"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "calliope:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = dotenv.Load()

	var (
		model       = flag.String("model", "", "live session model (default "+voice.DefaultModel+")")
		agentName   = flag.String("name", "Calliope", "agent name")
		agentRole   = flag.String("role", "a friendly voice assistant", "agent role")
		voiceName   = flag.String("voice", "", "synthesis voice")
		speed       = flag.Float64("speed", 1.0, "speech speed multiplier")
		pitch       = flag.Float64("pitch", 0, "pitch offset in semitones")
		contextFile = flag.String("context", "", "path to a business context document")
		record      = flag.String("record", "", "write the mixed session recording to this WAV file")
		summarize   = flag.Bool("summarize", false, "print a transcript summary on exit")
	)
	flag.Parse()

	log := newLogger()
	slog.SetDefault(log)

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	businessContext, err := loadBusinessContext(ctx, apiKey, *contextFile, log)
	if err != nil {
		return err
	}

	cfg := voice.SessionConfig{
		Model: *model,
		Agent: voice.AgentConfig{
			Name:            *agentName,
			Role:            *agentRole,
			Voice:           *voiceName,
			SpeedMultiplier: *speed,
			PitchOffset:     *pitch,
		},
		BusinessContext: businessContext,
		Record:          *record != "",
	}

	dialer := &gemini.Dialer{APIKey: apiKey, Logger: log}
	devices := &media.System{}
	ctrl := voice.NewController(dialer, devices, voice.WithLogger(log))

	fmt.Println("Connecting... speak once the session is live. Ctrl-C ends the call.")
	if err := ctrl.Connect(ctx, cfg); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	startedAt := time.Now()

	// Drain events until the session ends, by Ctrl-C or remote hangup.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ctrl.Events() {
			switch e := ev.(type) {
			case voice.StatusChangedEvent:
				fmt.Printf("[%s]\n", e.State)
				if e.State == voice.StateDisconnected {
					return
				}
			case voice.TranscriptAppendedEvent:
				printSegment(e.Segment)
			case voice.NoteTakenEvent:
				fmt.Printf("  * note: %s\n", e.Note)
			case voice.EventScheduledEvent:
				fmt.Printf("  * appointment: %s at %s\n", e.Event.Title, e.Event.StartTime)
			case voice.ToolCallUnhandledEvent:
				log.Warn("unhandled tool call", "name", e.Name)
			}
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\nHanging up...")
	case <-done:
	}
	ctrl.Disconnect()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
	endedAt := time.Now()

	return finishSession(ctrl, cfg, apiKey, *record, *summarize, startedAt, endedAt, log)
}

func printSegment(seg voice.TranscriptSegment) {
	switch seg.Speaker {
	case voice.SpeakerUser:
		fmt.Printf("you:   %s\n", seg.Text)
	case voice.SpeakerAgent:
		fmt.Printf("agent: %s\n", seg.Text)
	}
}

// loadBusinessContext reads the context document. Plain text files are used
// verbatim; PDFs go through the extraction model.
func loadBusinessContext(ctx context.Context, apiKey, path string, log *slog.Logger) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read context document: %w", err)
	}
	if !strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return string(data), nil
	}
	client, err := docs.New(ctx, apiKey, docs.WithLogger(log))
	if err != nil {
		return "", err
	}
	return client.ExtractBusinessContext(ctx, data, "application/pdf")
}

// finishSession handles everything that happens after hangup: recording
// export, summary, archive. Each step is independent; failures are logged
// but do not mask each other.
func finishSession(ctrl *voice.Controller, cfg voice.SessionConfig, apiKey, recordPath string, summarize bool, startedAt, endedAt time.Time, log *slog.Logger) error {
	// Post-session work gets its own context; the signal context is gone.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if recordPath != "" {
		if rec := ctrl.Recording(); !rec.Empty() {
			if err := os.WriteFile(recordPath, rec.Bytes(), 0o644); err != nil {
				log.Error("write recording", "path", recordPath, "error", err)
			} else {
				fmt.Printf("Recording (%s) written to %s\n", rec.Duration().Round(time.Second), recordPath)
			}
		} else {
			log.Info("no audio recorded, skipping recording file")
		}
	}

	var summary string
	if summarize {
		client, err := docs.New(ctx, apiKey, docs.WithLogger(log))
		if err != nil {
			log.Error("create summary client", "error", err)
		} else if summary, err = client.Summarize(ctx, ctrl.Transcript()); err != nil {
			log.Error("summarize session", "error", err)
		} else {
			fmt.Println("\nSummary:", summary)
		}
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		return nil
	}
	st, err := store.Open(ctx, dsn, log)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}
	rec := store.SessionRecord{
		ID:        ctrl.ID(),
		AgentName: cfg.Agent.Name,
		Model:     cfg.Model,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Summary:   summary,
	}
	if rec.Model == "" {
		rec.Model = voice.DefaultModel
	}
	if err := st.SaveSession(ctx, rec, ctrl.Transcript(), ctrl.Notes(), ctrl.CalendarEvents(), ctrl.Recording()); err != nil {
		return fmt.Errorf("archive session: %w", err)
	}
	fmt.Println("Session archived as", rec.ID)
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
