package voice

import (
	"encoding/base64"
	"errors"
	"sync"
	"testing"

	"github.com/calliope-voice/calliope/pkg/voice/wire"
)

// fakeCaptureDev feeds test-supplied blocks through the device interface.
type fakeCaptureDev struct {
	blocks chan []float32
	rate   int
	block  int

	mu     sync.Mutex
	closed int
}

func newFakeCaptureDev(rate, block int) *fakeCaptureDev {
	return &fakeCaptureDev{blocks: make(chan []float32, 64), rate: rate, block: block}
}

func (f *fakeCaptureDev) Blocks() <-chan []float32 { return f.blocks }
func (f *fakeCaptureDev) SampleRate() int          { return f.rate }
func (f *fakeCaptureDev) BlockSize() int           { return f.block }

func (f *fakeCaptureDev) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	if f.closed == 1 {
		close(f.blocks)
	}
	return nil
}

func (f *fakeCaptureDev) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeConn records outbound messages.
type fakeConn struct {
	mu      sync.Mutex
	sent    []wire.ClientMessage
	sendErr error
	closed  int
}

func (f *fakeConn) Send(msg wire.ClientMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeConn) sentMessages() []wire.ClientMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.ClientMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestCaptureStreamForwardsInOrder(t *testing.T) {
	dev := newFakeCaptureDev(16000, 4)
	conn := &fakeConn{}
	stream := NewCaptureStream(dev, NewFrameCodec(dev.SampleRate()), func() Conn { return conn }, nil, nil, nil)

	stream.Start()
	blocks := [][]float32{
		{0.1, 0.1, 0.1, 0.1},
		{0.2, 0.2, 0.2, 0.2},
		{0.3, 0.3, 0.3, 0.3},
	}
	for _, b := range blocks {
		dev.blocks <- b
	}
	stream.Stop()

	sent := conn.sentMessages()
	if len(sent) != len(blocks) {
		t.Fatalf("forwarded %d frames, want %d", len(sent), len(blocks))
	}
	codec := NewFrameCodec(dev.SampleRate())
	for i, msg := range sent {
		if msg.RealtimeInput == nil || msg.RealtimeInput.Audio == nil {
			t.Fatalf("frame %d is not a realtime input", i)
		}
		blob := msg.RealtimeInput.Audio
		if blob.MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("frame %d MIME = %q", i, blob.MIMEType)
		}
		got, err := codec.Decode(blob.Data)
		if err != nil {
			t.Fatalf("frame %d undecodable: %v", i, err)
		}
		if got[0] < blocks[i][0]-0.001 || got[0] > blocks[i][0]+0.001 {
			t.Fatalf("frame %d out of order: first sample %v, want ~%v", i, got[0], blocks[i][0])
		}
	}
}

func TestCaptureStreamDropsWithoutConnection(t *testing.T) {
	dev := newFakeCaptureDev(16000, 4)
	conn := &fakeConn{}
	live := false
	var mu sync.Mutex
	// Each conn() check reports what it saw, so the test can flip the
	// connection live only after a block has definitely been checked.
	connChecks := make(chan bool, 2)
	current := func() Conn {
		mu.Lock()
		l := live
		mu.Unlock()
		connChecks <- l
		if !l {
			return nil
		}
		return conn
	}

	var amps []float64
	var ampMu sync.Mutex
	stream := NewCaptureStream(dev, NewFrameCodec(dev.SampleRate()), current,
		func(rms float64) {
			ampMu.Lock()
			amps = append(amps, rms)
			ampMu.Unlock()
		}, nil, nil)

	stream.Start()
	dev.blocks <- []float32{0.5, 0.5, 0.5, 0.5} // no connection yet, dropped
	if saw := <-connChecks; saw {
		t.Fatal("first block saw a connection")
	}
	mu.Lock()
	live = true
	mu.Unlock()
	dev.blocks <- []float32{0.25, 0.25, 0.25, 0.25}
	if saw := <-connChecks; !saw {
		t.Fatal("second block saw no connection")
	}
	stream.Stop()

	if got := len(conn.sentMessages()); got != 1 {
		t.Fatalf("forwarded %d frames, want 1 (pre-connection block dropped)", got)
	}

	// Amplitude is reported for every block, connected or not.
	ampMu.Lock()
	defer ampMu.Unlock()
	if len(amps) != 2 {
		t.Fatalf("got %d amplitude samples, want 2", len(amps))
	}
	if amps[0] < 0.49 || amps[0] > 0.51 {
		t.Fatalf("first RMS = %v, want ~0.5", amps[0])
	}
}

func TestCaptureStreamSurvivesSendFailure(t *testing.T) {
	dev := newFakeCaptureDev(16000, 2)
	conn := &fakeConn{sendErr: errors.New("wire down")}
	stream := NewCaptureStream(dev, NewFrameCodec(dev.SampleRate()), func() Conn { return conn }, nil, nil, nil)

	stream.Start()
	dev.blocks <- []float32{0.1, 0.1}
	dev.blocks <- []float32{0.2, 0.2}
	stream.Stop()

	// Frames are dropped, the loop keeps running, and Stop drains cleanly.
	if got := len(conn.sentMessages()); got != 0 {
		t.Fatalf("sent %d frames through a dead connection", got)
	}
	if dev.closedCount() != 1 {
		t.Fatalf("device closed %d times, want 1", dev.closedCount())
	}
}

func TestCaptureStreamTapSeesRawBlocks(t *testing.T) {
	dev := newFakeCaptureDev(16000, 2)
	var tapped [][]float32
	var mu sync.Mutex
	stream := NewCaptureStream(dev, NewFrameCodec(dev.SampleRate()), func() Conn { return nil }, nil,
		func(block []float32) {
			mu.Lock()
			tapped = append(tapped, block)
			mu.Unlock()
		}, nil)

	stream.Start()
	dev.blocks <- []float32{0.5, -0.5}
	stream.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(tapped) != 1 || len(tapped[0]) != 2 {
		t.Fatalf("tap saw %v", tapped)
	}
	if tapped[0][0] != 0.5 || tapped[0][1] != -0.5 {
		t.Fatalf("tap saw altered samples %v", tapped[0])
	}
}

func TestCaptureFrameIsValidBase64(t *testing.T) {
	dev := newFakeCaptureDev(16000, 4)
	conn := &fakeConn{}
	stream := NewCaptureStream(dev, NewFrameCodec(dev.SampleRate()), func() Conn { return conn }, nil, nil, nil)

	stream.Start()
	dev.blocks <- []float32{1, -1, 0, 0.5}
	stream.Stop()

	sent := conn.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("forwarded %d frames, want 1", len(sent))
	}
	raw, err := base64.StdEncoding.DecodeString(sent[0].RealtimeInput.Audio.Data)
	if err != nil {
		t.Fatalf("payload is not base64: %v", err)
	}
	if len(raw) != 8 {
		t.Fatalf("payload is %d bytes, want 8 (4 samples PCM16)", len(raw))
	}
}
