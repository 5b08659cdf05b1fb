package voice

import (
	"strings"
	"testing"
)

func TestBuildSetupDefaults(t *testing.T) {
	setup := BuildSetup(SessionConfig{})
	if setup.Model != DefaultModel {
		t.Fatalf("model = %q", setup.Model)
	}
	if got := setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != DefaultVoice {
		t.Fatalf("voice = %q", got)
	}
	if len(setup.GenerationConfig.ResponseModalities) != 1 || setup.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Fatalf("modalities = %v", setup.GenerationConfig.ResponseModalities)
	}
	if setup.InputAudioTranscription == nil || setup.OutputAudioTranscription == nil {
		t.Fatal("transcription channels not enabled")
	}
	if len(setup.Tools) != 3 {
		t.Fatalf("tools = %d entries, want search + maps + declarations", len(setup.Tools))
	}
}

func TestBuildSetupSystemInstruction(t *testing.T) {
	setup := BuildSetup(SessionConfig{
		Agent: AgentConfig{
			Name:         "Ana",
			Role:         "the receptionist at Vista Dental",
			Instructions: "Always confirm the caller's phone number.",
		},
		BusinessContext: "Open Mon-Fri 9am-5pm.",
	})
	text := setup.SystemInstruction.Parts[0].Text
	for _, want := range []string{
		"You are Ana, the receptionist at Vista Dental.",
		"Always confirm the caller's phone number.",
		"Open Mon-Fri 9am-5pm.",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("system instruction missing %q:\n%s", want, text)
		}
	}
}

func TestBuildSetupCustomModelAndVoice(t *testing.T) {
	setup := BuildSetup(SessionConfig{
		Model: "models/custom-live",
		Agent: AgentConfig{Voice: "Aoede"},
	})
	if setup.Model != "models/custom-live" {
		t.Fatalf("model = %q", setup.Model)
	}
	if got := setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; got != "Aoede" {
		t.Fatalf("voice = %q", got)
	}
}

func TestProsodyDescription(t *testing.T) {
	tests := []struct {
		name   string
		speed  float64
		pitch  float64
		want   string
		absent bool
	}{
		{name: "neutral", speed: 1.0, pitch: 0, absent: true},
		{name: "unset", speed: 0, pitch: 0, absent: true},
		{name: "fast", speed: 1.4, want: "quickly"},
		{name: "slightly fast", speed: 1.15, want: "slightly faster"},
		{name: "slow", speed: 0.6, want: "slowly"},
		{name: "high pitch", speed: 1.0, pitch: 3, want: "higher-pitched"},
		{name: "deep", speed: 1.0, pitch: -3, want: "low-pitched"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := prosodyDescription(tc.speed, tc.pitch)
			if tc.absent {
				if got != "" {
					t.Fatalf("neutral prosody produced %q", got)
				}
				return
			}
			if !strings.Contains(got, tc.want) {
				t.Fatalf("prosody %q missing %q", got, tc.want)
			}
		})
	}
}

func TestProsodyCombinesSpeedAndPitch(t *testing.T) {
	got := prosodyDescription(1.4, -3)
	if !strings.Contains(got, "quickly") || !strings.Contains(got, "low-pitched") {
		t.Fatalf("combined prosody = %q", got)
	}
}
