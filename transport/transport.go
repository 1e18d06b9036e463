package transport

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"
)

// DefaultBaudRate is the line speed of the SNAP CDC port (115200/8n1)
const DefaultBaudRate = 115200

// ErrNotSupported is returned by backends that cannot drive the control lines
var ErrNotSupported = errors.New("not supported by this transport")

// Transport is a byte-stream link to the instrument.
//
// ReadTimeout blocks for at most timeout and returns 0 bytes with a nil error
// when nothing arrived. ReadNonBlocking returns whatever is already buffered.
// Flush discards unread input; Drain blocks until written data is on the wire.
// SetLines drives DTR and RTS, which wake the device after it has been idle.
type Transport interface {
	io.Closer
	Write(p []byte) (int, error)
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
	ReadNonBlocking(p []byte) (int, error)
	Flush() error
	Drain() error
	SetLines(dtr, rts bool) error
}

// Open attaches to the instrument via a serial device or a TCP bridge.
//
//	/dev/ttyACM0, file:///dev/ttyACM0, serial:///dev/ttyACM0  go.bug.st/serial
//	tarm:///dev/ttyACM0                                       github.com/tarm/serial
//	tcp://host:port, socket://host:port                       TCP serial bridge
func Open(link string, baud int) (Transport, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("failed to parse link %q: %w", link, err)
	}

	switch u.Scheme {
	case "tcp", "socket":
		return DialTCP(u.Host)
	case "tarm":
		return OpenTarm(u.Path, baud, tarmPollInterval)
	case "", "file", "serial":
		name := u.Path
		if name == "" {
			name = u.Opaque
		}
		return OpenSerial(name, baud)
	default:
		return nil, fmt.Errorf("can not find a valid connection string in %q", link)
	}
}
