package voice

import (
	"log/slog"
	"sync"

	"github.com/calliope-voice/calliope/pkg/media"
	"github.com/calliope-voice/calliope/pkg/voice/wire"
)

// CaptureStream reads blocks from a capture device, emits an RMS amplitude
// per block, and forwards encoded frames to the live connection in capture
// order. Blocks captured while no connection is available are dropped —
// this is a live stream, not a queue.
type CaptureStream struct {
	dev   media.CaptureDevice
	codec *FrameCodec
	log   *slog.Logger

	conn        func() Conn
	onAmplitude func(rms float64)
	tap         func(samples []float32)

	wg sync.WaitGroup
}

// NewCaptureStream wires a capture device to a connection source.
// conn is consulted per block so the stream tracks connection changes;
// onAmplitude and tap may be nil.
func NewCaptureStream(dev media.CaptureDevice, codec *FrameCodec, conn func() Conn, onAmplitude func(float64), tap func([]float32), log *slog.Logger) *CaptureStream {
	if log == nil {
		log = slog.Default()
	}
	return &CaptureStream{
		dev:         dev,
		codec:       codec,
		log:         log,
		conn:        conn,
		onAmplitude: onAmplitude,
		tap:         tap,
	}
}

// Start begins the forwarding loop. The loop ends when the device's block
// channel closes.
func (c *CaptureStream) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for block := range c.dev.Blocks() {
			c.forward(block)
		}
	}()
}

func (c *CaptureStream) forward(block []float32) {
	if c.onAmplitude != nil {
		c.onAmplitude(RMS(block))
	}
	if c.tap != nil {
		c.tap(block)
	}
	cn := c.conn()
	if cn == nil {
		return
	}
	msg := wire.AudioChunk(c.codec.Encode(block), c.codec.SampleRate())
	if err := cn.Send(msg); err != nil {
		// Transport failure surfaces through the read side; here the
		// frame is simply dropped to keep the stream live.
		c.log.Debug("dropped capture frame", "error", err)
	}
}

// Stop closes the device and waits for the loop to drain. Teardown is
// synchronous: when Stop returns, no more frames will be forwarded.
func (c *CaptureStream) Stop() {
	_ = c.dev.Close()
	c.wg.Wait()
}
