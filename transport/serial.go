package transport

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// Serial is a Transport over a local serial port
type Serial struct {
	port    serial.Port
	name    string
	timeout time.Duration // last value passed to SetReadTimeout
}

// OpenSerial opens the named port at 8n1
func OpenSerial(name string, baud int) (*Serial, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return &Serial{port: port, name: name, timeout: -1}, nil
}

// Name returns the port path
func (s *Serial) Name() string {
	return s.name
}

func (s *Serial) setTimeout(timeout time.Duration) error {
	if timeout == s.timeout {
		return nil
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	s.timeout = timeout
	return nil
}

func (s *Serial) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := s.setTimeout(timeout); err != nil {
		return 0, err
	}
	return s.port.Read(p)
}

func (s *Serial) ReadNonBlocking(p []byte) (int, error) {
	return s.ReadTimeout(p, 0)
}

func (s *Serial) Write(p []byte) (int, error) {
	n, err := s.port.Write(p)
	log.Tracef("Write b='%# x', n=%v, err=%v", p, n, err)
	return n, err
}

func (s *Serial) Flush() error {
	return s.port.ResetInputBuffer()
}

func (s *Serial) Drain() error {
	return s.port.Drain()
}

func (s *Serial) SetLines(dtr, rts bool) error {
	if err := s.port.SetDTR(dtr); err != nil {
		return fmt.Errorf("failed to set DTR: %w", err)
	}
	if err := s.port.SetRTS(rts); err != nil {
		return fmt.Errorf("failed to set RTS: %w", err)
	}
	return nil
}

func (s *Serial) Close() error {
	if s.port != nil {
		return s.port.Close()
	}
	return nil
}
