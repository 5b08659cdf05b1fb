// Package gemini connects voice sessions to the Gemini live API over a
// websocket, speaking the BidiGenerateContent frame protocol.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calliope-voice/calliope/pkg/voice"
	"github.com/calliope-voice/calliope/pkg/voice/wire"
)

// DefaultEndpoint is the public live-session websocket endpoint.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const defaultHandshakeTimeout = 15 * time.Second

// Dialer opens live sessions against the Gemini API. The zero value plus an
// APIKey is usable.
type Dialer struct {
	// APIKey authenticates the connection. Required against the default
	// endpoint.
	APIKey string

	// Endpoint overrides the websocket URL, mainly for tests and proxies.
	Endpoint string

	// HandshakeTimeout bounds the websocket upgrade and the wait for the
	// remote setup acknowledgement. Defaults to 15s.
	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Dial opens the websocket, sends the setup frame, and waits for the remote
// acknowledgement. The returned connection is live: inbound frames flow on
// the returned channel until the connection ends.
func (d *Dialer) Dial(ctx context.Context, setup wire.Setup) (voice.Conn, <-chan voice.Inbound, error) {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}

	endpoint := d.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if d.APIKey != "" {
		q := u.Query()
		q.Set("key", d.APIKey)
		u.RawQuery = q.Encode()
	}

	wsDialer := websocket.Dialer{HandshakeTimeout: timeout}
	ws, resp, err := wsDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, nil, fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &conn{ws: ws, log: log}
	if err := c.Send(wire.ClientMessage{Setup: &setup}); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("send setup: %w", err)
	}

	// The session is not live until the service acknowledges the setup.
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = ws.SetReadDeadline(deadline)
	_, data, err := ws.ReadMessage()
	if err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("await setup acknowledgement: %w", err)
	}
	msg, err := wire.DecodeServerMessage(data)
	if err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("decode setup acknowledgement: %w", err)
	}
	if msg.SetupComplete == nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("unexpected first frame, want setupComplete")
	}
	_ = ws.SetReadDeadline(time.Time{})

	inbound := make(chan voice.Inbound, 16)
	go c.readLoop(inbound)
	return c, inbound, nil
}

// conn is one live websocket session. Writes are serialized; reads belong to
// the read loop alone.
type conn struct {
	ws  *websocket.Conn
	log *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Send marshals and writes one outbound frame.
func (c *conn) Send(msg wire.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return fmt.Errorf("connection closed")
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the websocket down. A close frame is sent best-effort so the
// remote side sees a clean end.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

// readLoop pumps inbound frames until the websocket ends. Undecodable frames
// are logged and skipped so one bad frame cannot kill a live conversation;
// transport errors are terminal and delivered once before the channel closes.
func (c *conn) readLoop(inbound chan<- voice.Inbound) {
	defer close(inbound)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return // locally initiated close
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			inbound <- voice.Inbound{Err: err}
			return
		}
		msg, derr := wire.DecodeServerMessage(data)
		if derr != nil {
			c.log.Warn("skipping malformed inbound frame", "error", derr)
			continue
		}
		inbound <- voice.Inbound{Msg: msg}
	}
}
