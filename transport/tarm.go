package transport

import (
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"
)

// tarm/serial fixes the read timeout when the port is opened, so longer
// waits are built from repeated reads of this length. The termios VTIME
// field counts deciseconds, so no read can wait less than 100ms.
const tarmPollInterval = 100 * time.Millisecond

// tarmPoll rounds a poll interval up to what VTIME can express
func tarmPoll(poll time.Duration) time.Duration {
	if poll <= 0 {
		return tarmPollInterval
	}
	return (poll + tarmPollInterval - 1) / tarmPollInterval * tarmPollInterval
}

// Tarm is a Transport over github.com/tarm/serial, for hosts where the
// go.bug.st backend is unavailable. It cannot drive DTR/RTS, and every read,
// ReadNonBlocking included, may block for a whole poll interval.
type Tarm struct {
	port *serial.Port
	poll time.Duration
}

// OpenTarm opens the named port at 8n1. The poll interval is rounded up to
// whole deciseconds.
func OpenTarm(name string, baud int, poll time.Duration) (*Tarm, error) {
	poll = tarmPoll(poll)
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: poll,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return &Tarm{port: port, poll: poll}, nil
}

func (t *Tarm) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		n, err := t.read(p)
		if n > 0 || err != nil {
			return n, err
		}
		if !time.Now().Before(deadline) {
			return 0, nil
		}
	}
}

func (t *Tarm) ReadNonBlocking(p []byte) (int, error) {
	return t.read(p)
}

// read maps the io.EOF that tarm/serial reports on timeout to an empty read
func (t *Tarm) read(p []byte) (int, error) {
	n, err := t.port.Read(p)
	if err != nil && n == 0 && isTimeoutEOF(err) {
		return 0, nil
	}
	return n, err
}

func (t *Tarm) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *Tarm) Flush() error {
	return t.port.Flush()
}

// Drain is a no-op: tarm/serial writes go straight to the descriptor
func (t *Tarm) Drain() error {
	return nil
}

func (t *Tarm) SetLines(dtr, rts bool) error {
	return ErrNotSupported
}

func (t *Tarm) Close() error {
	return t.port.Close()
}

// A file read that times out with VTIME set returns no bytes, which os.File
// reports as io.EOF.
func isTimeoutEOF(err error) bool {
	return err == io.EOF
}
