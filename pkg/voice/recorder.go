package voice

import (
	"encoding/binary"
	"sync"
	"time"
)

// RecordingMixer combines the capture tap and the scheduler's playback tap
// into one mixed mono track. The two inputs are summed on a shared sample
// timeline; capture audio is never routed back to the output device, so the
// recording cannot cause feedback or pollute the live conversation.
//
// Mixed audio is encoded incrementally into PCM chunks; Finalize assembles
// them into a single WAV artifact.
type RecordingMixer struct {
	rate int

	mu        sync.Mutex
	mix       []float32 // unflushed window of the timeline
	base      int64     // absolute sample index of mix[0]
	capHead   int64     // absolute index where the next capture sample lands
	playHead  int64     // end of the furthest playback write
	resampler *linearResampler
	chunks    [][]byte
	encoded   int64 // samples flushed into chunks
	finalized bool
}

// holdbackSamples keeps one second of timeline unflushed so playback buffers
// scheduled slightly behind the capture head can still land before encoding.
func (r *RecordingMixer) holdbackSamples() int64 {
	return int64(r.rate)
}

// NewRecordingMixer creates a mixer recording at the given rate, which must
// match the playback rate so the scheduler tap needs no conversion.
func NewRecordingMixer(rate int) *RecordingMixer {
	return &RecordingMixer{rate: rate}
}

// AlignCapture anchors the capture head at a position on the output device
// clock. Playback positions are absolute on that clock, which starts running
// at device open; without the anchor, capture recorded after a slow connect
// would sit behind the flush watermark and be trimmed.
func (r *RecordingMixer) AlignCapture(at time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	pos := int64(at) * int64(r.rate) / int64(time.Second)
	if pos <= r.capHead {
		return
	}
	r.capHead = pos
	// Nothing recorded yet: start the artifact here instead of padding
	// the head with device-open silence.
	if r.encoded == 0 && len(r.mix) == 0 && pos > r.base {
		r.base = pos
	}
}

// AddCapture appends one captured block recorded at srcRate, resampling it
// to the recording rate.
func (r *RecordingMixer) AddCapture(block []float32, srcRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	if r.resampler == nil || r.resampler.srcRate != srcRate {
		r.resampler = &linearResampler{srcRate: srcRate, dstRate: r.rate}
	}
	resampled := r.resampler.process(block)
	r.mixAt(r.capHead, resampled)
	r.capHead += int64(len(resampled))
	r.flushLocked(false)
}

// AddPlayback mixes one scheduled playback buffer at its start position on
// the device clock.
func (r *RecordingMixer) AddPlayback(start time.Duration, samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	pos := int64(start) * int64(r.rate) / int64(time.Second)
	r.mixAt(pos, samples)
	if end := pos + int64(len(samples)); end > r.playHead {
		r.playHead = end
	}
	r.flushLocked(false)
}

func (r *RecordingMixer) mixAt(pos int64, samples []float32) {
	if len(samples) == 0 {
		return
	}
	off := pos - r.base
	if off < 0 {
		// Arrived behind the flush watermark; keep what still fits.
		if int64(len(samples)) <= -off {
			return
		}
		samples = samples[-off:]
		off = 0
	}
	need := int(off) + len(samples)
	for len(r.mix) < need {
		r.mix = append(r.mix, 0)
	}
	for i, v := range samples {
		r.mix[int(off)+i] += v
	}
}

// flushLocked encodes the settled prefix of the timeline. On final flush the
// whole window is encoded.
func (r *RecordingMixer) flushLocked(all bool) {
	var watermark int64
	if all {
		watermark = r.base + int64(len(r.mix))
	} else {
		watermark = r.capHead
		if r.playHead > watermark {
			watermark = r.playHead
		}
		watermark -= r.holdbackSamples()
	}
	n := watermark - r.base
	if n <= 0 {
		return
	}
	if n > int64(len(r.mix)) {
		n = int64(len(r.mix))
	}
	if n == 0 {
		return
	}

	chunk := make([]byte, n*2)
	for i := int64(0); i < n; i++ {
		v := r.mix[i]
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s := int16(v * 32767)
		chunk[i*2] = byte(s)
		chunk[i*2+1] = byte(s >> 8)
	}
	r.chunks = append(r.chunks, chunk)
	r.encoded += n
	r.mix = r.mix[n:]
	r.base += n
}

// Finalize stops the mixer and assembles the accumulated chunks into one
// exportable WAV blob. Finalizing with no recorded audio yields an empty
// artifact (size 0), which callers must treat as "no recording". Finalize is
// idempotent after the first call only in the sense that later calls return
// an empty artifact.
func (r *RecordingMixer) Finalize() *RecordingArtifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return &RecordingArtifact{}
	}
	r.finalized = true
	r.flushLocked(true)

	if r.encoded == 0 {
		return &RecordingArtifact{}
	}

	dataSize := int(r.encoded * 2)
	buf := make([]byte, 0, 44+dataSize)
	buf = append(buf, 'R', 'I', 'F', 'F')
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+dataSize))
	buf = append(buf, 'W', 'A', 'V', 'E')
	buf = append(buf, 'f', 'm', 't', ' ')
	buf = binary.LittleEndian.AppendUint32(buf, 16) // PCM fmt chunk size
	buf = binary.LittleEndian.AppendUint16(buf, 1)  // PCM
	buf = binary.LittleEndian.AppendUint16(buf, 1)  // mono
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.rate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.rate*2)) // byte rate
	buf = binary.LittleEndian.AppendUint16(buf, 2)                // block align
	buf = binary.LittleEndian.AppendUint16(buf, 16)               // bits per sample
	buf = append(buf, 'd', 'a', 't', 'a')
	buf = binary.LittleEndian.AppendUint32(buf, uint32(dataSize))
	for _, chunk := range r.chunks {
		buf = append(buf, chunk...)
	}

	return &RecordingArtifact{
		data:     buf,
		duration: time.Duration(r.encoded) * time.Second / time.Duration(r.rate),
	}
}

// RecordingArtifact is the finalized mixed recording.
type RecordingArtifact struct {
	data     []byte
	duration time.Duration
}

// Bytes returns the WAV blob, or nil for an empty artifact.
func (a *RecordingArtifact) Bytes() []byte {
	if a == nil {
		return nil
	}
	return a.data
}

// Size returns the blob size in bytes; 0 means no recording.
func (a *RecordingArtifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.data)
}

// Empty reports whether no audio was recorded.
func (a *RecordingArtifact) Empty() bool { return a.Size() == 0 }

// Duration returns the recorded length.
func (a *RecordingArtifact) Duration() time.Duration {
	if a == nil {
		return 0
	}
	return a.duration
}

// linearResampler converts between sample rates with linear interpolation,
// carrying fractional position and the trailing sample across calls.
type linearResampler struct {
	srcRate int
	dstRate int

	pos   float64
	carry []float32
}

func (r *linearResampler) process(in []float32) []float32 {
	if r.srcRate == r.dstRate {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	src := append(r.carry, in...)
	if len(src) < 2 {
		r.carry = src
		return nil
	}
	step := float64(r.srcRate) / float64(r.dstRate)
	out := make([]float32, 0, int(float64(len(src))/step)+1)
	pos := r.pos
	for int(pos)+1 < len(src) {
		i := int(pos)
		f := float32(pos - float64(i))
		out = append(out, src[i]+f*(src[i+1]-src[i]))
		pos += step
	}
	consumed := len(src) - 1
	r.pos = pos - float64(consumed)
	r.carry = []float32{src[consumed]}
	return out
}
