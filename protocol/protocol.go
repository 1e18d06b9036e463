package protocol

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Command codes
const (
	CMD_NOP          = 0 // Nudge a stalled device; no response is expected
	CMD_LA_START     = 3
	CMD_LA_STOP      = 4
	CMD_LA_GET_CHUNK = 5
	CMD_LA_CONFIG    = 6
	CMD_OS_START     = 7
	CMD_OS_STOP      = 8
	CMD_OS_GET_CHUNK = 9
	CMD_OS_CONFIG    = 10
	CMD_PING         = 15
)

// Packet framing
const (
	MarkerRequest  = 0xAA
	MarkerResponse = 0x55
	HeaderSize     = 3
	MaxPayload     = 255
)

// Status codes
const (
	STATUS_OK = 0
)

// DefaultTimeout bounds header and payload reads of a response
const DefaultTimeout = 2 * time.Second

// PongPayload is the payload of a successful PING response
const PongPayload = "1pong"

// Link is the part of a byte-stream transport the codec needs.
// ReadTimeout returns 0 bytes and a nil error when the timeout elapses.
type Link interface {
	Write(p []byte) (int, error)
	Drain() error
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
}

// Response is a decoded response packet
type Response struct {
	Status  byte
	Payload []byte
}

// OK reports whether the device accepted the command
func (r *Response) OK() bool {
	return r.Status == STATUS_OK
}

// Err converts a nonzero status into a DeviceError for the given command
func (r *Response) Err(cmd byte) error {
	if r.OK() {
		return nil
	}
	return &DeviceError{Command: cmd, Status: r.Status}
}

// EncodeCommand builds a request frame: [MarkerRequest][cmd][len][payload...]
func EncodeCommand(cmd byte, payload []byte) ([]byte, error) {
	return encode(MarkerRequest, cmd, payload)
}

// EncodeResponse builds a response frame: [MarkerResponse][status][len][payload...]
func EncodeResponse(status byte, payload []byte) ([]byte, error) {
	return encode(MarkerResponse, status, payload)
}

func encode(marker, code byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes exceeds maximum %d", ErrPayloadTooLong, len(payload), MaxPayload)
	}
	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = marker
	frame[1] = code
	frame[2] = byte(len(payload))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// DecodeCommand parses a complete request frame
func DecodeCommand(frame []byte) (byte, []byte, error) {
	if len(frame) < HeaderSize {
		return 0, nil, &ProtocolError{Op: "decode command", Err: ErrLengthMismatch}
	}
	if frame[0] != MarkerRequest {
		return 0, nil, &ProtocolError{Op: "decode command", Err: fmt.Errorf("%w: 0x%02x", ErrInvalidMarker, frame[0])}
	}
	n := int(frame[2])
	if len(frame) != HeaderSize+n {
		return 0, nil, &ProtocolError{Op: "decode command",
			Err: fmt.Errorf("%w: header declares %d bytes, frame carries %d", ErrLengthMismatch, n, len(frame)-HeaderSize)}
	}
	payload := make([]byte, n)
	copy(payload, frame[HeaderSize:])
	return frame[1], payload, nil
}

// Uint32 encodes a little-endian 4-byte payload
func Uint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// SendCommand writes a framed command and drains the transport so that the
// device has seen the whole packet before any response is awaited.
// A short write is fatal: the frame cannot be completed later.
func SendCommand(link Link, cmd byte, payload []byte) error {
	frame, err := EncodeCommand(cmd, payload)
	if err != nil {
		return err
	}

	log.Debugf("Sending cmd 0x%02x with %d byte payload", cmd, len(payload))

	n, err := link.Write(frame)
	if err != nil {
		return &TransportError{Op: "write command", Err: err}
	}
	if n != len(frame) {
		return &TransportError{Op: "write command",
			Err: fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(frame))}
	}

	if err := link.Drain(); err != nil {
		return &TransportError{Op: "drain", Err: err}
	}
	return nil
}

// ReadExact reads exactly count bytes. The transport may deliver fewer bytes
// per call; partial reads are accumulated. A read that returns no data means
// the timeout elapsed.
func ReadExact(link Link, count int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, count)
	received := 0
	for received < count {
		n, err := link.ReadTimeout(buf[received:], timeout)
		if err != nil {
			return nil, &TransportError{Op: "read", Err: err}
		}
		if n == 0 {
			return nil, &ProtocolError{Op: "read",
				Err: fmt.Errorf("%w reading %d bytes (got %d)", ErrTimeout, count, received)}
		}
		received += n
	}
	return buf, nil
}

// ReadResponse reads one complete response packet. The status byte is
// returned as is; callers decide whether a nonzero status is fatal.
func ReadResponse(link Link, timeout time.Duration) (*Response, error) {
	header, err := ReadExact(link, HeaderSize, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to read response header: %w", err)
	}

	if header[0] != MarkerResponse {
		return nil, &ProtocolError{Op: "read response",
			Err: fmt.Errorf("%w: 0x%02x (expected 0x%02x)", ErrInvalidMarker, header[0], MarkerResponse)}
	}

	resp := &Response{Status: header[1]}
	n := int(header[2])
	if n > 0 {
		resp.Payload, err = ReadExact(link, n, timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to read response payload: %w", err)
		}
	}

	log.Debugf("Response: status=0x%02x, payload_len=%d", resp.Status, n)
	if !resp.OK() {
		log.Warnf("Device returned non-zero status: %d", resp.Status)
	}
	return resp, nil
}

// Exchange sends a command and reads its response, failing on nonzero status
func Exchange(link Link, cmd byte, payload []byte, timeout time.Duration) (*Response, error) {
	if err := SendCommand(link, cmd, payload); err != nil {
		return nil, err
	}
	resp, err := ReadResponse(link, timeout)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(cmd); err != nil {
		return resp, err
	}
	return resp, nil
}

// Ping performs the discovery handshake. Any reply other than status 0 with
// the literal payload "1pong" means the device is absent or incompatible.
func Ping(link Link, timeout time.Duration) error {
	if err := SendCommand(link, CMD_PING, nil); err != nil {
		return fmt.Errorf("failed to send PING: %w", err)
	}
	resp, err := ReadResponse(link, timeout)
	if err != nil {
		return fmt.Errorf("failed to read PING response: %w", err)
	}
	if !resp.OK() || string(resp.Payload) != PongPayload {
		return fmt.Errorf("%w (status 0x%02x, payload %q)", ErrNotSnap, resp.Status, resp.Payload)
	}
	return nil
}
