package voice

import "sync"

// TranscriptAggregator merges interleaved transcription events from both
// parties into one ordered, append-only log. User events are final on
// arrival; agent events arrive as provisional fragments of the current
// utterance. Ordering reflects arrival order, not speaker. Callers that need
// sentence-level finality for agent speech must do their own boundary
// detection.
type TranscriptAggregator struct {
	mu       sync.Mutex
	segments []TranscriptSegment
	onAppend func(TranscriptSegment)
}

// NewTranscriptAggregator creates an aggregator; onAppend (may be nil) fires
// once per appended segment.
func NewTranscriptAggregator(onAppend func(TranscriptSegment)) *TranscriptAggregator {
	return &TranscriptAggregator{onAppend: onAppend}
}

// AddUserText appends a final user segment.
func (a *TranscriptAggregator) AddUserText(text string) {
	if text == "" {
		return
	}
	a.append(TranscriptSegment{Speaker: SpeakerUser, Text: text, Final: true})
}

// AddAgentFragment appends a provisional agent segment.
func (a *TranscriptAggregator) AddAgentFragment(text string) {
	if text == "" {
		return
	}
	a.append(TranscriptSegment{Speaker: SpeakerAgent, Text: text, Final: false})
}

func (a *TranscriptAggregator) append(seg TranscriptSegment) {
	a.mu.Lock()
	a.segments = append(a.segments, seg)
	cb := a.onAppend
	a.mu.Unlock()
	if cb != nil {
		cb(seg)
	}
}

// Segments returns a copy of the ordered log.
func (a *TranscriptAggregator) Segments() []TranscriptSegment {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]TranscriptSegment, len(a.segments))
	copy(out, a.segments)
	return out
}

// Len returns the number of segments appended so far.
func (a *TranscriptAggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.segments)
}
