package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrPayloadTooLong is returned when a payload does not fit the length byte
	ErrPayloadTooLong = errors.New("payload too long")

	// ErrShortWrite means the transport accepted only part of a frame
	ErrShortWrite = errors.New("short write")

	// ErrTimeout means bytes did not arrive within the read timeout
	ErrTimeout = errors.New("timeout")

	// ErrInvalidMarker means a frame did not start with the expected marker
	ErrInvalidMarker = errors.New("invalid marker")

	// ErrLengthMismatch means the payload does not match the declared length
	ErrLengthMismatch = errors.New("payload length mismatch")

	// ErrNotSnap means the PING handshake failed
	ErrNotSnap = errors.New("device did not answer PING as a SNAP instrument")
)

// TransportError is a link-level failure. It is never retried by the codec.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a framing failure: timeout, bad marker or bad length
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// DeviceError is a well-framed response carrying a nonzero status
type DeviceError struct {
	Command byte
	Status  byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("SNAP error: command 0x%02x returned status %d", e.Command, e.Status)
}

// IsTimeout reports whether err was caused by a read timeout
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
