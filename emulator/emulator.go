// Package emulator simulates a SNAP instrument behind the transport interface.
//
// The device answers PING, CONFIG, START, GET_CHUNK and STOP of both modes
// and ignores NOP. After a chunk request it streams generated samples until
// the requested chunks are exhausted or STOP arrives. Samples are produced
// lazily as the host reads, so no goroutine is involved.
package emulator

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sergev/snap/acquisition"
	"github.com/sergev/snap/protocol"
)

var errClosed = errors.New("emulator: device closed")

// Status codes returned by the emulated firmware
const (
	StatusBadLength  = 1
	StatusNotStarted = 2
	StatusUnknown    = 0xFF
)

// Generator produces sample number i: a logic row, or a 10-bit ADC code
type Generator func(mode acquisition.Mode, i uint64) uint16

// Counter emits an incrementing byte in logic mode and a slow sine in
// oscilloscope mode
func Counter(mode acquisition.Mode, i uint64) uint16 {
	if mode == acquisition.LogicAnalyzer {
		return uint16(i & 0xFF)
	}
	return uint16(511.5 + 511.5*math.Sin(float64(i)*2*math.Pi/256))
}

// Option configures a Device
type Option func(*Device)

// WithGenerator replaces the sample generator
func WithGenerator(g Generator) Option {
	return func(d *Device) { d.gen = g }
}

// WithStallAfter makes the device go silent after n samples
func WithStallAfter(n uint64) Option {
	return func(d *Device) { d.stallAfter = n }
}

// WithBurst limits the bytes delivered per read
func WithBurst(n int) Option {
	return func(d *Device) { d.burst = n }
}

// WithWakeGarbage sets the bytes emitted when the wake lines are asserted
func WithWakeGarbage(b []byte) Option {
	return func(d *Device) { d.garbage = b }
}

// WithLogger sets the logger
func WithLogger(l *logrus.Logger) Option {
	return func(d *Device) { d.log = logrus.NewEntry(l).WithField("component", "emulator") }
}

type stream struct {
	mode      acquisition.Mode
	active    bool
	remaining uint64 // bytes
	offset    uint64 // bytes produced
}

// Device is an emulated instrument. It implements transport.Transport.
type Device struct {
	mu      sync.Mutex
	in      []byte
	out     bytes.Buffer
	rate    [2]uint32
	started [2]bool
	stream  stream
	late    []byte // wake-up garbage that arrives after the host flushed
	dtr     bool
	rts     bool
	closed  bool
	nops    int

	gen        Generator
	stallAfter uint64
	burst      int
	garbage    []byte
	log        *logrus.Entry
}

// New returns an idle emulated device
func New(opts ...Option) *Device {
	d := &Device{
		gen:     Counter,
		burst:   4096,
		garbage: []byte{0x00, 0xFF, 0x0D, 0x0A},
		log:     logrus.NewEntry(logrus.StandardLogger()).WithField("component", "emulator"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func modeIndex(m acquisition.Mode) int {
	if m == acquisition.Oscilloscope {
		return 1
	}
	return 0
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errClosed
	}
	d.in = append(d.in, p...)
	d.parse()
	return len(p), nil
}

// parse executes every complete request frame in the input buffer
func (d *Device) parse() {
	for len(d.in) >= protocol.HeaderSize {
		if d.in[0] != protocol.MarkerRequest {
			d.in = d.in[1:]
			continue
		}
		size := protocol.HeaderSize + int(d.in[2])
		if len(d.in) < size {
			return
		}
		cmd, payload, err := protocol.DecodeCommand(d.in[:size])
		d.in = d.in[size:]
		if err != nil {
			d.log.Warnf("Bad frame: %v", err)
			continue
		}
		d.execute(cmd, payload)
	}
}

func (d *Device) respond(status byte, payload []byte) {
	frame, _ := protocol.EncodeResponse(status, payload)
	d.out.Write(frame)
}

func (d *Device) execute(cmd byte, payload []byte) {
	d.log.Debugf("Command 0x%02x, %d byte payload", cmd, len(payload))
	switch cmd {
	case protocol.CMD_NOP:
		d.nops++
	case protocol.CMD_PING:
		d.respond(protocol.STATUS_OK, []byte(protocol.PongPayload))
	case protocol.CMD_LA_CONFIG, protocol.CMD_OS_CONFIG:
		if len(payload) != 4 {
			d.respond(StatusBadLength, nil)
			return
		}
		d.rate[modeIndex(commandMode(cmd))] = binary.LittleEndian.Uint32(payload)
		d.respond(protocol.STATUS_OK, nil)
	case protocol.CMD_LA_START, protocol.CMD_OS_START:
		d.started[modeIndex(commandMode(cmd))] = true
		d.respond(protocol.STATUS_OK, nil)
	case protocol.CMD_LA_GET_CHUNK, protocol.CMD_OS_GET_CHUNK:
		mode := commandMode(cmd)
		if len(payload) != 4 {
			d.respond(StatusBadLength, nil)
			return
		}
		if !d.started[modeIndex(mode)] {
			d.respond(StatusNotStarted, nil)
			return
		}
		chunks := uint64(binary.LittleEndian.Uint32(payload))
		perChunk := uint64(acquisition.MaxTransferBytes / mode.BytesPerSample())
		total := chunks * perChunk * uint64(mode.BytesPerSample())
		d.respond(protocol.STATUS_OK, protocol.Uint32(uint32(min(total, math.MaxUint32))))
		d.stream = stream{mode: mode, active: true, remaining: total}
	case protocol.CMD_LA_STOP, protocol.CMD_OS_STOP:
		mode := commandMode(cmd)
		d.started[modeIndex(mode)] = false
		if d.stream.mode == mode {
			d.stream.active = false
		}
		d.respond(protocol.STATUS_OK, nil)
	default:
		d.respond(StatusUnknown, nil)
	}
}

func commandMode(cmd byte) acquisition.Mode {
	switch cmd {
	case protocol.CMD_OS_CONFIG, protocol.CMD_OS_START, protocol.CMD_OS_STOP, protocol.CMD_OS_GET_CHUNK:
		return acquisition.Oscilloscope
	}
	return acquisition.LogicAnalyzer
}

// produce appends up to n bytes of samples to the output
func (d *Device) produce(n int) {
	s := &d.stream
	if !s.active || s.remaining == 0 {
		return
	}
	bps := uint64(s.mode.BytesPerSample())
	want := min(uint64(n), s.remaining)
	if d.stallAfter > 0 {
		ceiling := d.stallAfter * bps
		if s.offset >= ceiling {
			return
		}
		want = min(want, ceiling-s.offset)
	}
	for i := uint64(0); i < want; i++ {
		pos := s.offset + i
		v := d.gen(s.mode, pos/bps)
		if bps == 2 && pos%2 == 1 {
			d.out.WriteByte(byte(v >> 8))
		} else {
			d.out.WriteByte(byte(v))
		}
	}
	s.offset += want
	s.remaining -= want
}

func (d *Device) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	n, err := d.ReadNonBlocking(p)
	if n > 0 || err != nil {
		return n, err
	}
	if timeout > 0 {
		time.Sleep(min(timeout, time.Millisecond))
	}
	return 0, nil
}

func (d *Device) ReadNonBlocking(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errClosed
	}
	if d.out.Len() == 0 && len(d.late) > 0 {
		d.out.Write(d.late)
		d.late = nil
	}
	if d.out.Len() == 0 {
		d.produce(min(len(p), d.burst))
	}
	if d.out.Len() == 0 {
		return 0, nil
	}
	return d.out.Read(limit(p, d.burst))
}

func limit(p []byte, n int) []byte {
	if n > 0 && len(p) > n {
		return p[:n]
	}
	return p
}

// Flush discards pending output
func (d *Device) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.Reset()
	return nil
}

func (d *Device) Drain() error {
	return nil
}

// SetLines emits wake-up garbage when both lines become asserted
func (d *Device) SetLines(dtr, rts bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dtr && rts && !(d.dtr && d.rts) {
		d.out.Write(d.garbage)
		d.late = append([]byte(nil), d.garbage...)
	}
	d.dtr, d.rts = dtr, rts
	return nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// SampleRate returns the last configured rate of a mode
func (d *Device) SampleRate(mode acquisition.Mode) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rate[modeIndex(mode)]
}

// Streaming reports whether samples are being sent
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream.active
}

// Nops returns the number of NOP commands received
func (d *Device) Nops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nops
}
