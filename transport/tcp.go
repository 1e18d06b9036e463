package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// TCP is a Transport over a network serial bridge such as ser2net
type TCP struct {
	conn *net.TCPConn
}

// DialTCP connects to a serial bridge at addr
func DialTCP(addr string) (*TCP, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	tc := conn.(*net.TCPConn)
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(30 * time.Second)
	return &TCP{conn: tc}, nil
}

func (t *TCP) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (t *TCP) ReadNonBlocking(p []byte) (int, error) {
	return t.ReadTimeout(p, time.Millisecond)
}

func (t *TCP) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

// Flush discards whatever the bridge has already delivered
func (t *TCP) Flush() error {
	buf := make([]byte, 1024)
	for {
		n, err := t.ReadNonBlocking(buf)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (t *TCP) Drain() error {
	return nil
}

func (t *TCP) SetLines(dtr, rts bool) error {
	return ErrNotSupported
}

func (t *TCP) Close() error {
	return t.conn.Close()
}
