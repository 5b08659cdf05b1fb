package voice

import (
	"context"

	"github.com/calliope-voice/calliope/pkg/voice/wire"
)

// Conn is the minimal surface the controller needs from a live connection.
// Implementations may additionally expose Close() error; the controller
// detects that with a type assertion on teardown and never assumes it exists.
type Conn interface {
	Send(msg wire.ClientMessage) error
}

// Inbound is one delivery from the remote side. Exactly one field is set.
// A terminal Err is delivered at most once, immediately before the channel
// closes; a clean remote close just closes the channel.
type Inbound struct {
	Msg *wire.ServerMessage
	Err error
}

// Dialer opens a live connection. Dial blocks until the remote side has
// acknowledged the setup payload (or ctx expires) and returns the connection
// together with the inbound delivery channel.
type Dialer interface {
	Dial(ctx context.Context, setup wire.Setup) (Conn, <-chan Inbound, error)
}
