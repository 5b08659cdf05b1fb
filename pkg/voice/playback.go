package voice

import (
	"sync"
	"time"

	"github.com/calliope-voice/calliope/pkg/media"
)

// Scheduler assigns each decoded playback buffer a start position on the
// output device's clock so buffers play back-to-back with no gap and no
// overlap, regardless of network jitter in arrival timing. Arrival order
// defines playback order; out-of-order arrival is not corrected.
type Scheduler struct {
	out media.OutputDevice

	mu   sync.Mutex
	next time.Duration
	tap  func(start time.Duration, samples []float32)
}

// NewScheduler creates a scheduler for the given output device.
func NewScheduler(out media.OutputDevice) *Scheduler {
	return &Scheduler{out: out}
}

// SetTap routes every scheduled buffer, with its start position, to an
// observer such as the recording mixer. Pass nil to disable.
func (s *Scheduler) SetTap(tap func(start time.Duration, samples []float32)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tap = tap
}

// Schedule queues one buffer. The start position is
// max(next-start, device-current-time); next-start then advances by the
// buffer's duration. Returns the scheduled start.
func (s *Scheduler) Schedule(samples []float32) (time.Duration, error) {
	if len(samples) == 0 {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.next, nil
	}
	dur := time.Duration(len(samples)) * time.Second / time.Duration(s.out.SampleRate())

	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.next
	if now := s.out.Now(); now > start {
		start = now
	}
	if err := s.out.PlayAt(start, samples); err != nil {
		return start, err
	}
	s.next = start + dur
	if s.tap != nil {
		s.tap(start, samples)
	}
	return start, nil
}

// NextStart returns the position the next buffer would be scheduled no
// earlier than.
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
