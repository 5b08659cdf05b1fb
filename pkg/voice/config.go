package voice

import (
	"fmt"
	"strings"

	"github.com/calliope-voice/calliope/pkg/voice/wire"
)

const (
	// DefaultModel is the native-audio conversational model a session opens
	// against when SessionConfig.Model is empty.
	DefaultModel = "models/gemini-2.5-flash-native-audio-preview-09-2025"
	// DefaultVoice is used when no voice is selected.
	DefaultVoice = "Puck"
)

// AgentConfig describes the agent persona for one session. It is immutable
// for the session's duration; supplied at connect time.
type AgentConfig struct {
	Name         string
	Role         string
	Instructions string

	// Voice selects the synthesis voice by identifier.
	Voice string

	// PitchOffset (semitones) and SpeedMultiplier shape delivery. The remote
	// model has no numeric prosody control, so these are rendered as
	// natural-language style guidance in the system instruction.
	PitchOffset     float64
	SpeedMultiplier float64
}

// SessionConfig is everything a session needs at connect time.
type SessionConfig struct {
	Model string
	Agent AgentConfig

	// BusinessContext is free-text knowledge passed verbatim into the
	// session's initial instructions. Opaque to the core.
	BusinessContext string

	// Record enables the mixed conversation recording.
	Record bool
}

// BuildSetup renders the session-open payload: model, system instruction
// (persona + prosody guidance + business context), voice selection, the tool
// declarations, and both transcription channels.
func BuildSetup(cfg SessionConfig) wire.Setup {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	voiceName := strings.TrimSpace(cfg.Agent.Voice)
	if voiceName == "" {
		voiceName = DefaultVoice
	}

	return wire.Setup{
		Model: model,
		GenerationConfig: wire.GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &wire.SpeechConfig{
				VoiceConfig: wire.VoiceConfig{
					PrebuiltVoiceConfig: wire.PrebuiltVoiceConfig{VoiceName: voiceName},
				},
			},
		},
		SystemInstruction: &wire.Content{
			Parts: []wire.Part{{Text: buildSystemInstruction(cfg)}},
		},
		Tools:                    wire.DefaultTools(),
		InputAudioTranscription:  &wire.Transcription{},
		OutputAudioTranscription: &wire.Transcription{},
	}
}

func buildSystemInstruction(cfg SessionConfig) string {
	var b strings.Builder

	name := strings.TrimSpace(cfg.Agent.Name)
	role := strings.TrimSpace(cfg.Agent.Role)
	switch {
	case name != "" && role != "":
		fmt.Fprintf(&b, "You are %s, %s.", name, role)
	case name != "":
		fmt.Fprintf(&b, "You are %s.", name)
	case role != "":
		fmt.Fprintf(&b, "You are %s.", role)
	default:
		b.WriteString("You are a helpful voice assistant.")
	}

	if inst := strings.TrimSpace(cfg.Agent.Instructions); inst != "" {
		b.WriteString("\n\n")
		b.WriteString(inst)
	}

	if prosody := prosodyDescription(cfg.Agent.SpeedMultiplier, cfg.Agent.PitchOffset); prosody != "" {
		b.WriteString("\n\n")
		b.WriteString(prosody)
	}

	if ctx := strings.TrimSpace(cfg.BusinessContext); ctx != "" {
		b.WriteString("\n\nUse the following business context when answering:\n")
		b.WriteString(ctx)
	}

	return b.String()
}

// prosodyDescription translates numeric prosody parameters into delivery
// guidance. Returns "" when both parameters are neutral.
func prosodyDescription(speed, pitch float64) string {
	var hints []string

	switch {
	case speed == 0:
		// Unset; treat as neutral.
	case speed >= 1.3:
		hints = append(hints, "speak quickly and energetically")
	case speed >= 1.1:
		hints = append(hints, "speak slightly faster than normal")
	case speed <= 0.7:
		hints = append(hints, "speak slowly and deliberately")
	case speed <= 0.9:
		hints = append(hints, "speak slightly slower than normal")
	}

	switch {
	case pitch >= 2:
		hints = append(hints, "use a noticeably higher-pitched voice")
	case pitch >= 0.5:
		hints = append(hints, "use a slightly higher-pitched voice")
	case pitch <= -2:
		hints = append(hints, "use a deep, low-pitched voice")
	case pitch <= -0.5:
		hints = append(hints, "use a slightly deeper voice")
	}

	if len(hints) == 0 {
		return ""
	}
	return "Delivery style: " + strings.Join(hints, "; ") + "."
}
