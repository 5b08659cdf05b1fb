package voice

import (
	"encoding/base64"
	"math"
)

// FrameCodec converts raw float samples to and from the wire transport
// encoding: 16-bit little-endian PCM wrapped in base64.
type FrameCodec struct {
	sampleRateHz int
}

// NewFrameCodec creates a codec for the given sample rate. The rate is not
// part of the encoding itself; it rides in the frame MIME type.
func NewFrameCodec(sampleRateHz int) *FrameCodec {
	return &FrameCodec{sampleRateHz: sampleRateHz}
}

// SampleRate returns the codec's nominal sample rate in Hz.
func (c *FrameCodec) SampleRate() int {
	return c.sampleRateHz
}

// Encode converts one block of float samples in [-1, 1] to base64 PCM16LE.
// Out-of-range samples are clamped.
func (c *FrameCodec) Encode(samples []float32) string {
	pcm := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		s := int16(v * 32767)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return base64.StdEncoding.EncodeToString(pcm)
}

// Decode converts base64 PCM16LE back to float samples in [-1, 1]. The scale
// matches Encode; the one extra negative code (-32768) clamps to -1.
func (c *FrameCodec) Decode(data string) ([]float32, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, NewEncodingError("invalid base64 audio payload", err)
	}
	if len(pcm)%2 != 0 {
		return nil, NewEncodingError("pcm payload has odd byte length", nil)
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		f := float32(s) / 32767.0
		if f < -1 {
			f = -1
		}
		samples[i] = f
	}
	return samples, nil
}

// RMS computes the root-mean-square amplitude of a sample block. An all-zero
// block yields exactly 0; a block of constant amplitude A yields A.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}
