package voice

import "fmt"

// ErrorKind categorizes session failures.
type ErrorKind string

const (
	// ErrDeviceAcquisition covers capture/output device open failures
	// (no permission, no hardware).
	ErrDeviceAcquisition ErrorKind = "device_acquisition"
	// ErrConnection covers handshake and transport failures.
	ErrConnection ErrorKind = "connection"
	// ErrProtocol covers malformed inbound messages and tool-id mismatches.
	ErrProtocol ErrorKind = "protocol"
	// ErrEncoding covers undecodable audio payloads.
	ErrEncoding ErrorKind = "encoding"
)

// Error is the session error taxonomy. Device and connection errors are
// surfaced on status events rather than panicking across the public API.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewDeviceError wraps a device acquisition failure.
func NewDeviceError(message string, err error) *Error {
	return &Error{Kind: ErrDeviceAcquisition, Message: message, Err: err}
}

// NewConnectionError wraps a connect or transport failure.
func NewConnectionError(message string, err error) *Error {
	return &Error{Kind: ErrConnection, Message: message, Err: err}
}

// NewProtocolError wraps a malformed or contract-violating inbound message.
func NewProtocolError(message string, err error) *Error {
	return &Error{Kind: ErrProtocol, Message: message, Err: err}
}

// NewEncodingError wraps an undecodable audio payload.
func NewEncodingError(message string, err error) *Error {
	return &Error{Kind: ErrEncoding, Message: message, Err: err}
}
