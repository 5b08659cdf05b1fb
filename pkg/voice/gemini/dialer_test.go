package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calliope-voice/calliope/pkg/voice"
	"github.com/calliope-voice/calliope/pkg/voice/wire"
)

func newLiveServer(t *testing.T, handler func(r *http.Request, ws *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()
		handler(r, ws)
	}))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readClientMessage(t *testing.T, ws *websocket.Conn) wire.ClientMessage {
	t.Helper()
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Errorf("server read: %v", err)
		return wire.ClientMessage{}
	}
	var msg wire.ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Errorf("server decode: %v", err)
	}
	return msg
}

func ackSetup(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`)); err != nil {
		t.Errorf("server ack: %v", err)
	}
}

func TestDialHandshake(t *testing.T) {
	gotSetup := make(chan wire.ClientMessage, 1)
	gotKey := make(chan string, 1)
	_, wsURL := newLiveServer(t, func(r *http.Request, ws *websocket.Conn) {
		gotKey <- r.URL.Query().Get("key")
		gotSetup <- readClientMessage(t, ws)
		ackSetup(t, ws)
		_ = ws.WriteMessage(websocket.TextMessage,
			[]byte(`{"serverContent":{"outputTranscription":{"text":"hello"}}}`))
		_ = ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	d := &Dialer{APIKey: "test-key", Endpoint: wsURL}
	setup := voice.BuildSetup(voice.SessionConfig{Model: "models/test-live"})
	conn, inbound, err := d.Dial(context.Background(), setup)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() {
		if closer, ok := conn.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
	}()

	if key := <-gotKey; key != "test-key" {
		t.Fatalf("key query param = %q", key)
	}
	sent := <-gotSetup
	if sent.Setup == nil || sent.Setup.Model != "models/test-live" {
		t.Fatalf("first frame = %+v, want setup", sent)
	}

	select {
	case in := <-inbound:
		if in.Err != nil {
			t.Fatalf("inbound error: %v", in.Err)
		}
		sc := in.Msg.ServerContent
		if sc == nil || sc.OutputTranscription == nil || sc.OutputTranscription.Text != "hello" {
			t.Fatalf("inbound = %+v", in.Msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame never arrived")
	}

	select {
	case in, ok := <-inbound:
		if ok {
			t.Fatalf("unexpected extra delivery %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after remote close")
	}
}

func TestDialRejectsWrongFirstFrame(t *testing.T) {
	_, wsURL := newLiveServer(t, func(r *http.Request, ws *websocket.Conn) {
		readClientMessage(t, ws)
		_ = ws.WriteMessage(websocket.TextMessage,
			[]byte(`{"serverContent":{"turnComplete":true}}`))
	})

	d := &Dialer{Endpoint: wsURL, HandshakeTimeout: 2 * time.Second}
	if _, _, err := d.Dial(context.Background(), wire.Setup{Model: "models/test"}); err == nil {
		t.Fatal("Dial accepted a session without setupComplete")
	}
}

func TestDialHandshakeTimeout(t *testing.T) {
	_, wsURL := newLiveServer(t, func(r *http.Request, ws *websocket.Conn) {
		readClientMessage(t, ws)
		time.Sleep(500 * time.Millisecond) // never acknowledge
	})

	d := &Dialer{Endpoint: wsURL, HandshakeTimeout: 100 * time.Millisecond}
	if _, _, err := d.Dial(context.Background(), wire.Setup{Model: "models/test"}); err == nil {
		t.Fatal("Dial did not time out waiting for acknowledgement")
	}
}

func TestSendAfterHandshake(t *testing.T) {
	gotFrame := make(chan wire.ClientMessage, 1)
	_, wsURL := newLiveServer(t, func(r *http.Request, ws *websocket.Conn) {
		readClientMessage(t, ws)
		ackSetup(t, ws)
		gotFrame <- readClientMessage(t, ws)
	})

	d := &Dialer{Endpoint: wsURL}
	conn, _, err := d.Dial(context.Background(), wire.Setup{Model: "models/test"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	msg := wire.AudioChunk("AAAA", 16000)
	if err := conn.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case frame := <-gotFrame:
		if frame.RealtimeInput == nil || frame.RealtimeInput.Audio.Data != "AAAA" {
			t.Fatalf("server saw %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never reached the server")
	}

	if closer, ok := conn.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
}

func TestCloseEndsReadLoopCleanly(t *testing.T) {
	_, wsURL := newLiveServer(t, func(r *http.Request, ws *websocket.Conn) {
		readClientMessage(t, ws)
		ackSetup(t, ws)
		// Hold the connection open until the client hangs up.
		_, _, _ = ws.ReadMessage()
	})

	d := &Dialer{Endpoint: wsURL}
	conn, inbound, err := d.Dial(context.Background(), wire.Setup{Model: "models/test"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	closer := conn.(interface{ Close() error })
	if err := closer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Send(wire.AudioChunk("AAAA", 16000)); err == nil {
		t.Fatal("Send succeeded on a closed connection")
	}

	select {
	case in, ok := <-inbound:
		if ok && in.Err != nil {
			t.Fatalf("local close surfaced as error: %v", in.Err)
		}
		if ok {
			t.Fatalf("unexpected delivery %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound channel not closed after local close")
	}
}
