// Package transporttest provides a scripted in-memory transport.
//
// Reads are served from a queue of steps: a data step delivers bytes (possibly
// across several reads when the caller's buffer is smaller), an empty step is a
// read timeout, and an error step fails the read. Writes are recorded and parsed
// into request frames; a responder registered for a command code appends its
// steps to the read queue every time that command is written.
package transporttest

import (
	"sync"
	"time"
)

const (
	markerRequest = 0xAA
	headerSize    = 3
)

// Step is one scripted read result
type Step struct {
	Data []byte
	Err  error
}

// Data returns a step delivering the given bytes
func Data(b ...byte) Step {
	return Step{Data: append([]byte(nil), b...)}
}

// Timeout returns a step for a read that returns no bytes
func Timeout() Step {
	return Step{}
}

// Timeouts returns n timeout steps
func Timeouts(n int) []Step {
	return make([]Step, n)
}

// Fail returns a step whose read fails with err
func Fail(err error) Step {
	return Step{Err: err}
}

// Frame is a request frame written to the transport
type Frame struct {
	Command byte
	Payload []byte
}

// Lines records a SetLines call
type Lines struct {
	DTR, RTS bool
}

// Conn is a scripted transport. The zero value is ready to use.
type Conn struct {
	mu         sync.Mutex
	steps      []Step
	responders map[byte][]Step
	writeFails map[byte]error
	written    []byte
	pending    []byte
	frames     []Frame
	lines      []Lines
	reads      int
	flushes    int
	drains     int
	closed     bool

	// MaxWrite limits the bytes accepted per Write; zero means unlimited
	MaxWrite int
	// WriteErr, DrainErr and LinesErr are returned by the matching calls
	WriteErr error
	DrainErr error
	LinesErr error
	// Idle is slept when a read finds the queue empty
	Idle time.Duration
	// KeepOnFlush leaves queued reads in place, like a device that keeps
	// talking after the host discarded its input
	KeepOnFlush bool
}

// Push appends steps to the read queue
func (c *Conn) Push(steps ...Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, steps...)
}

// Respond queues steps whenever a frame with the given command is written
func (c *Conn) Respond(cmd byte, steps ...Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.responders == nil {
		c.responders = make(map[byte][]Step)
	}
	c.responders[cmd] = steps
}

// FailWriteOf makes every write of a frame with the given command fail
func (c *Conn) FailWriteOf(cmd byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeFails == nil {
		c.writeFails = make(map[byte]error)
	}
	c.writeFails[cmd] = err
}

func (c *Conn) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	c.mu.Lock()
	c.reads++
	if len(c.steps) == 0 {
		idle := c.Idle
		c.mu.Unlock()
		if idle > 0 {
			if timeout > 0 && timeout < idle {
				idle = timeout
			}
			time.Sleep(idle)
		}
		return 0, nil
	}
	defer c.mu.Unlock()

	step := c.steps[0]
	if step.Err != nil {
		c.steps = c.steps[1:]
		return 0, step.Err
	}
	if len(step.Data) == 0 {
		c.steps = c.steps[1:]
		return 0, nil
	}
	n := copy(p, step.Data)
	if n < len(step.Data) {
		c.steps[0] = Step{Data: step.Data[n:]}
	} else {
		c.steps = c.steps[1:]
	}
	return n, nil
}

func (c *Conn) ReadNonBlocking(p []byte) (int, error) {
	return c.ReadTimeout(p, 0)
}

func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return 0, c.WriteErr
	}
	if len(p) >= 2 && p[0] == markerRequest && c.writeFails[p[1]] != nil {
		return 0, c.writeFails[p[1]]
	}
	n := len(p)
	if c.MaxWrite > 0 && n > c.MaxWrite {
		n = c.MaxWrite
	}
	c.written = append(c.written, p[:n]...)
	c.pending = append(c.pending, p[:n]...)
	c.parse()
	return n, nil
}

// parse extracts complete request frames from pending bytes
func (c *Conn) parse() {
	for len(c.pending) >= headerSize {
		if c.pending[0] != markerRequest {
			c.pending = c.pending[1:]
			continue
		}
		size := headerSize + int(c.pending[2])
		if len(c.pending) < size {
			return
		}
		f := Frame{
			Command: c.pending[1],
			Payload: append([]byte(nil), c.pending[headerSize:size]...),
		}
		c.pending = c.pending[size:]
		c.frames = append(c.frames, f)
		for _, s := range c.responders[f.Command] {
			c.steps = append(c.steps, Step{Data: append([]byte(nil), s.Data...), Err: s.Err})
		}
	}
}

// Flush discards queued reads
func (c *Conn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	if !c.KeepOnFlush {
		c.steps = nil
	}
	return nil
}

func (c *Conn) Drain() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drains++
	return c.DrainErr
}

func (c *Conn) SetLines(dtr, rts bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LinesErr != nil {
		return c.LinesErr
	}
	c.lines = append(c.lines, Lines{DTR: dtr, RTS: rts})
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Frames returns the request frames written so far
func (c *Conn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

// Commands returns the command codes written so far
func (c *Conn) Commands() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	cmds := make([]byte, len(c.frames))
	for i, f := range c.frames {
		cmds[i] = f.Command
	}
	return cmds
}

// Written returns every byte written
func (c *Conn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written...)
}

// Lines returns the recorded SetLines calls
func (c *Conn) Lines() []Lines {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Lines(nil), c.lines...)
}

// Reads returns the number of read calls
func (c *Conn) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Flushes returns the number of Flush calls
func (c *Conn) Flushes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

// Drains returns the number of Drain calls
func (c *Conn) Drains() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drains
}

// Closed reports whether Close was called
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Pending returns the number of queued read steps
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps)
}
