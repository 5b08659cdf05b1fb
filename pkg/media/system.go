package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"
)

const (
	// DefaultCaptureRate is the microphone sample rate the remote service
	// expects for realtime input.
	DefaultCaptureRate = 16000
	// DefaultPlaybackRate is the fixed rate of synthesized audio.
	DefaultPlaybackRate = 24000
	// DefaultBlockSize is the capture block size in samples.
	DefaultBlockSize = 4096
)

// System provides the host machine's default microphone and speaker.
//
// The speaker is backed by a process-wide audio context; open at most one
// output device per process.
type System struct {
	CaptureRate  int
	PlaybackRate int
	BlockSize    int
}

func (s *System) captureRate() int {
	if s.CaptureRate > 0 {
		return s.CaptureRate
	}
	return DefaultCaptureRate
}

func (s *System) playbackRate() int {
	if s.PlaybackRate > 0 {
		return s.PlaybackRate
	}
	return DefaultPlaybackRate
}

func (s *System) blockSize() int {
	if s.BlockSize > 0 {
		return s.BlockSize
	}
	return DefaultBlockSize
}

// OpenCapture opens the default microphone and starts block delivery.
func (s *System) OpenCapture(ctx context.Context) (CaptureDevice, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("init capture context: %w", err)
	}

	mic := &micDevice{
		mctx:   mctx,
		rate:   s.captureRate(),
		block:  s.blockSize(),
		blocks: make(chan []float32, 8),
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(mic.rate)
	cfg.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			mic.push(input)
		},
	}
	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	mic.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("start microphone: %w", err)
	}
	return mic, nil
}

type micDevice struct {
	mctx   *malgo.AllocatedContext
	device *malgo.Device
	rate   int
	block  int

	mu      sync.Mutex
	pending []float32
	closed  bool
	blocks  chan []float32
}

func (m *micDevice) Blocks() <-chan []float32 { return m.blocks }
func (m *micDevice) SampleRate() int          { return m.rate }
func (m *micDevice) BlockSize() int           { return m.block }

// push runs on the audio thread: convert, accumulate, and hand off whole
// blocks without blocking. Full channel means the consumer fell behind; the
// block is dropped, not queued, because this is a live stream.
func (m *micDevice) push(input []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for i := 0; i+4 <= len(input); i += 4 {
		m.pending = append(m.pending, math.Float32frombits(binary.LittleEndian.Uint32(input[i:i+4])))
	}
	for len(m.pending) >= m.block {
		block := make([]float32, m.block)
		copy(block, m.pending[:m.block])
		m.pending = m.pending[m.block:]
		select {
		case m.blocks <- block:
		default:
		}
	}
}

func (m *micDevice) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
	}
	if m.mctx != nil {
		_ = m.mctx.Uninit()
		m.mctx.Free()
	}
	close(m.blocks)
	return nil
}

// OpenOutput opens the default speaker.
func (s *System) OpenOutput(ctx context.Context) (OutputDevice, error) {
	rate := s.playbackRate()
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("open speaker: %w", err)
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	spk := &speakerDevice{rate: rate}
	spk.player = otoCtx.NewPlayer(spk)
	spk.player.Play()
	return spk, nil
}

// speakerDevice queues PCM for a pull-based player and keeps a playback clock
// by counting the bytes the player has consumed. The player pulls silence
// when the queue is dry, so the clock advances in real time even while idle.
type speakerDevice struct {
	rate   int
	player *oto.Player

	mu     sync.Mutex
	queue  []byte // unserved PCM16LE
	served int64  // bytes already pulled by the player
	closed bool
}

func (s *speakerDevice) SampleRate() int { return s.rate }

func (s *speakerDevice) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.durationOf(s.served)
}

func (s *speakerDevice) durationOf(bytes int64) time.Duration {
	return time.Duration(bytes/2) * time.Second / time.Duration(s.rate)
}

func (s *speakerDevice) bytesAt(d time.Duration) int64 {
	samples := int64(d) * int64(s.rate) / int64(time.Second)
	return samples * 2
}

func (s *speakerDevice) PlayAt(start time.Duration, samples []float32) error {
	pcm := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		sv := int16(v * 32767)
		pcm[i*2] = byte(sv)
		pcm[i*2+1] = byte(sv >> 8)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("speaker is closed")
	}
	head := s.served + int64(len(s.queue))
	if target := s.bytesAt(start); target > head {
		pad := target - head
		if pad%2 != 0 {
			pad++
		}
		s.queue = append(s.queue, make([]byte, pad)...)
	}
	s.queue = append(s.queue, pcm...)
	return nil
}

// Read implements io.Reader for the player. It always fills p, zero-padding
// past the queue, so playback never stalls and the clock keeps running.
func (s *speakerDevice) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.queue)
	s.queue = s.queue[n:]
	for i := n; i < len(p); i++ {
		p[i] = 0
	}
	s.served += int64(len(p))
	return len(p), nil
}

func (s *speakerDevice) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	if s.player != nil {
		return s.player.Close()
	}
	return nil
}
