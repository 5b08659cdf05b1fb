package voice

import "testing"

func TestTranscriptOrderingAndFinality(t *testing.T) {
	a := NewTranscriptAggregator(nil)
	a.AddUserText("hi")
	a.AddAgentFragment("hel")
	a.AddAgentFragment("lo there")
	a.AddUserText("thanks")

	segs := a.Segments()
	want := []TranscriptSegment{
		{Speaker: SpeakerUser, Text: "hi", Final: true},
		{Speaker: SpeakerAgent, Text: "hel", Final: false},
		{Speaker: SpeakerAgent, Text: "lo there", Final: false},
		{Speaker: SpeakerUser, Text: "thanks", Final: true},
	}
	if len(segs) != len(want) {
		t.Fatalf("got %d segments, want %d", len(segs), len(want))
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Fatalf("segment %d = %+v, want %+v", i, segs[i], want[i])
		}
	}
}

func TestTranscriptEmptyTextIgnored(t *testing.T) {
	a := NewTranscriptAggregator(nil)
	a.AddUserText("")
	a.AddAgentFragment("")
	if a.Len() != 0 {
		t.Fatalf("empty texts appended, len = %d", a.Len())
	}
}

func TestTranscriptAppendCallback(t *testing.T) {
	var seen []TranscriptSegment
	a := NewTranscriptAggregator(func(seg TranscriptSegment) {
		seen = append(seen, seg)
	})
	a.AddUserText("one")
	a.AddAgentFragment("two")

	if len(seen) != 2 {
		t.Fatalf("callback fired %d times, want 2", len(seen))
	}
	if seen[0].Speaker != SpeakerUser || seen[1].Speaker != SpeakerAgent {
		t.Fatalf("callback order wrong: %+v", seen)
	}
}

func TestTranscriptSegmentsReturnsCopy(t *testing.T) {
	a := NewTranscriptAggregator(nil)
	a.AddUserText("original")
	segs := a.Segments()
	segs[0].Text = "mutated"
	if a.Segments()[0].Text != "original" {
		t.Fatal("Segments exposed internal storage")
	}
}
