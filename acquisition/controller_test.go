package acquisition

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/sergev/snap/protocol"
	"github.com/sergev/snap/transport"
	"github.com/sergev/snap/transport/transporttest"
	"github.com/sergev/snap/trigger"
)

// recordSink keeps every call in order
type recordSink struct {
	mu      sync.Mutex
	header  *Header
	logic   [][]byte
	analog  [][]float32
	channel string
	ends    int
	failOn  int // fail the Nth delivery, 1-based
	calls   int
}

func (s *recordSink) BeginStream(h Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.header = &h
	return nil
}

func (s *recordSink) deliver() error {
	s.calls++
	if s.failOn > 0 && s.calls == s.failOn {
		return errors.New("disk full")
	}
	return nil
}

func (s *recordSink) DeliverLogic(data []byte, unitSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ends > 0 {
		panic("delivery after end of stream")
	}
	if err := s.deliver(); err != nil {
		return err
	}
	s.logic = append(s.logic, append([]byte(nil), data...))
	return nil
}

func (s *recordSink) DeliverAnalog(samples []float32, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ends > 0 {
		panic("delivery after end of stream")
	}
	if err := s.deliver(); err != nil {
		return err
	}
	s.analog = append(s.analog, append([]float32(nil), samples...))
	s.channel = channel
	return nil
}

func (s *recordSink) EndOfStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
	return nil
}

func (s *recordSink) endCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ends
}

func ack(payload ...byte) transporttest.Step {
	return transporttest.Data(append([]byte{protocol.MarkerResponse, protocol.STATUS_OK, byte(len(payload))}, payload...)...)
}

func nak(status byte) transporttest.Step {
	return transporttest.Data(protocol.MarkerResponse, status, 0)
}

func metadata(total uint32) transporttest.Step {
	return ack(protocol.Uint32(total)...)
}

// newDevice scripts the acknowledgments of a healthy instrument in the given
// mode; stream is what follows the chunk request
func newDevice(mode Mode, stream ...transporttest.Step) *transporttest.Conn {
	t, _ := mode.table()
	conn := &transporttest.Conn{}
	conn.Respond(t.config, ack())
	conn.Respond(t.start, ack())
	conn.Respond(t.getChunk, stream...)
	conn.Respond(t.stop, ack())
	return conn
}

func newTestController(conn transport.Transport, sink Sink, opts ...Option) (*Controller, *logtest.Hook) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	base := []Option{
		WithLogger(logger),
		WithWakeSettle(0),
		WithDrainTimeout(time.Millisecond),
		WithReadTimeout(time.Millisecond),
		WithResponseTimeout(20 * time.Millisecond),
		WithPollDelay(0),
	}
	return NewController(conn, sink, append(base, opts...)...), hook
}

func logicChannels() Channels {
	var ch Channels
	for i := 0; i < 8; i++ {
		ch.Logic = append(ch.Logic, Channel{Name: string(rune('0' + i)), Index: i, Enabled: true})
	}
	ch.Analog = []Channel{{Name: "A0", Index: 8}}
	return ch
}

func analogChannels() Channels {
	ch := logicChannels()
	ch.Analog[0].Enabled = true
	return ch
}

func logicRequest(limit uint64) Request {
	return Request{
		Config:   Config{SampleRate: 1000000, SampleLimit: limit, CaptureRatio: 20},
		Channels: logicChannels(),
	}
}

func wait(t *testing.T, c *Controller) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}
	return res
}

// Ten bytes in one read make one record of ten rows.
func TestLogicCapture(t *testing.T) {
	conn := newDevice(LogicAnalyzer, metadata(10), transporttest.Data(1, 2, 3, 4, 5, 6, 7, 8, 9, 10))
	sink := &recordSink{}
	c, _ := newTestController(conn, sink)

	if err := c.Start(logicRequest(10)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	res := wait(t, c)

	if res.Reason != Completed || res.Err != nil {
		t.Fatalf("Result = %v, %v; expected completed", res.Reason, res.Err)
	}
	if res.Samples != 10 || res.Metadata.TotalBytes != 10 {
		t.Errorf("Result samples = %d, metadata = %d", res.Samples, res.Metadata.TotalBytes)
	}
	if len(sink.logic) != 1 || !bytes.Equal(sink.logic[0], []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}) {
		t.Errorf("sink got %v", sink.logic)
	}
	if sink.endCount() != 1 {
		t.Errorf("end of stream delivered %d times", sink.endCount())
	}
	if sink.header == nil || sink.header.Mode != LogicAnalyzer || len(sink.header.Channels) != 8 {
		t.Errorf("header = %+v", sink.header)
	}

	expected := []byte{protocol.CMD_LA_CONFIG, protocol.CMD_LA_START, protocol.CMD_LA_GET_CHUNK, protocol.CMD_LA_STOP}
	if got := conn.Commands(); !bytes.Equal(got, expected) {
		t.Errorf("commands = %v, expected %v", got, expected)
	}
	frames := conn.Frames()
	if !bytes.Equal(frames[0].Payload, protocol.Uint32(1000000)) {
		t.Errorf("CONFIG payload = % x", frames[0].Payload)
	}
	if !bytes.Equal(frames[2].Payload, protocol.Uint32(1)) {
		t.Errorf("GET_CHUNK payload = % x", frames[2].Payload)
	}
	if lines := conn.Lines(); len(lines) != 1 || !lines[0].DTR || !lines[0].RTS {
		t.Errorf("wake lines = %+v", lines)
	}
	if c.Alive() {
		t.Errorf("Alive() = true after the session ended")
	}
}

// A sample split across reads is decoded only once its second byte arrives.
func TestAnalogOddByteCompletion(t *testing.T) {
	conn := newDevice(Oscilloscope,
		metadata(6),
		transporttest.Data(0xFF, 0xFF, 0x00, 0x00, 0x00),
		transporttest.Timeout(),
		transporttest.Data(0x02),
	)
	sink := &recordSink{}
	c, _ := newTestController(conn, sink)

	req := Request{
		Config:   Config{SampleRate: 500000, SampleLimit: 3},
		Channels: analogChannels(),
	}
	if err := c.Start(req); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	res := wait(t, c)

	if res.Reason != Completed || res.Samples != 3 {
		t.Fatalf("Result = %v with %d samples", res.Reason, res.Samples)
	}
	if len(sink.analog) != 1 || len(sink.analog[0]) != 3 {
		t.Fatalf("sink got %v", sink.analog)
	}
	expected := []float32{3.3, 0, float32(512.0 / 1023.0 * 3.3)}
	for i, v := range expected {
		if math.Abs(float64(sink.analog[0][i]-v)) > 1e-5 {
			t.Errorf("sample[%d] = %v, expected %v", i, sink.analog[0][i], v)
		}
	}
	if sink.channel != "A0" {
		t.Errorf("analog channel = %q", sink.channel)
	}
	if got := conn.Commands(); got[len(got)-1] != protocol.CMD_OS_STOP {
		t.Errorf("last command = %d, expected OS_STOP", got[len(got)-1])
	}
	if c.Channels().EnabledNames(LogicAnalyzer) != nil {
		t.Errorf("logic channels stay enabled in oscilloscope mode")
	}
}

// Decoded samples times two always equals the bytes consumed, however the
// stream is split.
func TestAnalogByteAccounting(t *testing.T) {
	raw := make([]byte, 40)
	for i := range raw {
		raw[i] = byte(i)
	}
	for split := 1; split <= 7; split++ {
		var steps []transporttest.Step
		steps = append(steps, metadata(uint32(len(raw))))
		for start := 0; start < len(raw); start += split {
			steps = append(steps, transporttest.Data(raw[start:min(start+split, len(raw))]...))
		}
		conn := newDevice(Oscilloscope, steps...)
		sink := &recordSink{}
		c, _ := newTestController(conn, sink)
		if err := c.Start(Request{Config: Config{SampleRate: 1000, SampleLimit: 20}, Channels: analogChannels()}); err != nil {
			t.Fatalf("Start() returned error: %v", err)
		}
		res := wait(t, c)

		var decoded []float32
		for _, rec := range sink.analog {
			decoded = append(decoded, rec...)
		}
		if res.Samples != 20 || len(decoded) != 20 {
			t.Fatalf("split %d: %d samples reported, %d decoded", split, res.Samples, len(decoded))
		}
		scale := DefaultAnalogScale()
		for i, v := range decoded {
			code := uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
			if v != scale.Voltage(code) {
				t.Errorf("split %d: sample %d = %v, expected %v", split, i, v, scale.Voltage(code))
			}
		}
	}
}

// A trigger that never matches leaves the session to complete normally.
func TestTriggerNeverFires(t *testing.T) {
	conn := newDevice(LogicAnalyzer, metadata(16), transporttest.Data(make([]byte, 16)...))
	sink := &recordSink{}
	c, _ := newTestController(conn, sink)

	req := logicRequest(16)
	req.Trigger = trigger.Spec{{Channel: 0, Match: trigger.Rising}}
	if err := c.Start(req); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	res := wait(t, c)

	if res.Reason != Completed || res.Triggered || c.Triggered() {
		t.Errorf("Result = %v, triggered %v", res.Reason, res.Triggered)
	}
	if res.Samples != 16 {
		t.Errorf("Result samples = %d, expected 16", res.Samples)
	}
	if sink.endCount() != 1 {
		t.Errorf("end of stream delivered %d times", sink.endCount())
	}
}

func TestTriggerFires(t *testing.T) {
	conn := newDevice(LogicAnalyzer,
		metadata(100),
		transporttest.Data(0, 0, 0),
		transporttest.Data(0, 1, 2, 3),
		transporttest.Data(4, 5, 6),
	)
	sink := &recordSink{}
	c, _ := newTestController(conn, sink)

	req := logicRequest(100)
	req.Trigger = trigger.Spec{{Channel: 0, Match: trigger.Rising}}
	if err := c.Start(req); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	res := wait(t, c)

	if res.Reason != Triggered || !res.Triggered || !c.Triggered() {
		t.Fatalf("Result = %v, triggered %v", res.Reason, res.Triggered)
	}
	if res.TriggerOffset != 4 {
		t.Errorf("trigger offset = %d, expected 4", res.TriggerOffset)
	}
	if res.PreTriggerRetained != 4 {
		t.Errorf("pre-trigger retained = %d, expected 4", res.PreTriggerRetained)
	}
	if len(sink.logic) != 2 || !bytes.Equal(sink.logic[1], []byte{1, 2, 3}) {
		t.Errorf("sink got %v", sink.logic)
	}
	if res.Samples != 6 {
		t.Errorf("samples = %d, expected 6", res.Samples)
	}
	if got := conn.Commands(); got[len(got)-1] != protocol.CMD_LA_STOP {
		t.Errorf("STOP not sent after trigger: %v", got)
	}
}

// A device that never sends data is nudged once and then declared stalled.
func TestStall(t *testing.T) {
	conn := newDevice(LogicAnalyzer, metadata(1000))
	sink := &recordSink{}
	c, hook := newTestController(conn, sink)

	if err := c.Start(logicRequest(1000)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	res := wait(t, c)

	if res.Reason != Stalled {
		t.Fatalf("Result reason = %v, expected stalled", res.Reason)
	}
	var stall *StallError
	if !errors.As(res.Err, &stall) {
		t.Fatalf("Result error = %v, expected StallError", res.Err)
	}
	if stall.EmptyReads != DefaultStallAfter || res.Samples >= res.Limit || !res.Partial() {
		t.Errorf("StallError = %+v, partial = %v", stall, res.Partial())
	}
	if sink.endCount() != 1 {
		t.Errorf("end of stream delivered %d times", sink.endCount())
	}

	nops := 0
	for _, cmd := range conn.Commands() {
		if cmd == protocol.CMD_NOP {
			nops++
		}
	}
	if nops != 1 {
		t.Errorf("NOP sent %d times, expected 1", nops)
	}
	if got := conn.Commands(); got[len(got)-1] != protocol.CMD_LA_STOP {
		t.Errorf("STOP not sent after stall: %v", got)
	}

	warnings := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings++
		}
	}
	if warnings < 2 {
		t.Errorf("logged %d warnings, expected the warn and nudge watermarks", warnings)
	}
}

func TestStallShrunkBudget(t *testing.T) {
	conn := newDevice(LogicAnalyzer, metadata(8), transporttest.Data(1, 2, 3))
	sink := &recordSink{}
	c, _ := newTestController(conn, sink, WithEmptyReadBudget(EmptyReadBudget{Warn: 1, Nudge: 2, Stall: 3}))

	if err := c.Start(logicRequest(8)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	res := wait(t, c)
	if res.Reason != Stalled || res.Samples != 3 {
		t.Errorf("Result = %v with %d samples", res.Reason, res.Samples)
	}
}

func TestStopLatency(t *testing.T) {
	conn := newDevice(LogicAnalyzer, metadata(1000))
	conn.Idle = 5 * time.Millisecond
	sink := &recordSink{}
	c, _ := newTestController(conn, sink,
		WithReadTimeout(5*time.Millisecond),
		WithPollDelay(time.Millisecond),
		WithEmptyReadBudget(EmptyReadBudget{Warn: 5, Nudge: 100, Stall: math.MaxInt32}))

	if err := c.Start(logicRequest(1000)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if !c.Alive() {
		t.Fatalf("Alive() = false while streaming")
	}

	begin := time.Now()
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() returned error: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 500*time.Millisecond {
		t.Errorf("Stop() took %v", elapsed)
	}

	res, ok := c.LastResult()
	if !ok || res.Reason != Cancelled {
		t.Errorf("LastResult() = %v, %v; expected cancelled", res.Reason, ok)
	}
	if sink.endCount() != 1 {
		t.Errorf("end of stream delivered %d times", sink.endCount())
	}
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop() returned error: %v", err)
	}
	if sink.endCount() != 1 {
		t.Errorf("second Stop() delivered another end of stream")
	}
}

// A device that never answers the chunk request still stops within a few
// read timeouts, and the session counts as cancelled.
func TestStopWhileWaitingForMetadata(t *testing.T) {
	conn := newDevice(LogicAnalyzer)
	conn.Idle = time.Minute
	sink := &recordSink{}
	c, _ := newTestController(conn, sink,
		WithReadTimeout(5*time.Millisecond),
		WithResponseTimeout(2*time.Second))

	if err := c.Start(logicRequest(1000)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	begin := time.Now()
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() returned error: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 500*time.Millisecond {
		t.Errorf("Stop() took %v with a 5ms read timeout", elapsed)
	}

	res, ok := c.LastResult()
	if !ok || res.Reason != Cancelled || res.Err != nil || res.Partial() {
		t.Errorf("LastResult() = %v, %v, partial %v", res.Reason, res.Err, res.Partial())
	}
	if got := conn.Commands(); got[len(got)-1] != protocol.CMD_LA_STOP {
		t.Errorf("STOP not sent: %v", got)
	}
	if sink.endCount() != 1 {
		t.Errorf("end of stream delivered %d times", sink.endCount())
	}
}

// A chunk request that cannot be written leaves a started device, which is
// stopped before Start returns.
func TestStartChunkRequestFailure(t *testing.T) {
	conn := newDevice(LogicAnalyzer)
	failure := errors.New("port gone")
	conn.FailWriteOf(protocol.CMD_LA_GET_CHUNK, failure)
	sink := &recordSink{}
	c, _ := newTestController(conn, sink)

	err := c.Start(logicRequest(10))
	if !errors.Is(err, ErrStarted) || !errors.Is(err, failure) {
		t.Fatalf("Start() error = %v", err)
	}
	if c.Alive() || sink.header != nil {
		t.Errorf("session began after a failed chunk request")
	}
	want := []byte{protocol.CMD_LA_CONFIG, protocol.CMD_LA_START, protocol.CMD_LA_STOP}
	if got := conn.Commands(); !bytes.Equal(got, want) {
		t.Errorf("commands = %v, expected %v", got, want)
	}
}

func TestStartWhileRunning(t *testing.T) {
	conn := newDevice(LogicAnalyzer, metadata(1000))
	conn.Idle = time.Millisecond
	sink := &recordSink{}
	c, _ := newTestController(conn, sink,
		WithEmptyReadBudget(EmptyReadBudget{Stall: math.MaxInt32}))

	if err := c.Start(logicRequest(1000)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	if err := c.Start(logicRequest(1000)); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, expected ErrAlreadyRunning", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() returned error: %v", err)
	}

	// A finished session does not block the next one
	conn.Respond(protocol.CMD_LA_GET_CHUNK, metadata(2), transporttest.Data(7, 8))
	if err := c.Start(logicRequest(2)); err != nil {
		t.Fatalf("Start() after Stop() returned error: %v", err)
	}
	res := wait(t, c)
	if res.Reason != Completed || res.Samples != 2 {
		t.Errorf("Result = %v with %d samples", res.Reason, res.Samples)
	}
	if err := c.Start(logicRequest(2)); err != nil {
		t.Errorf("Start() after a completed session returned error: %v", err)
	}
	c.Stop()
}

func TestStopIdle(t *testing.T) {
	c, _ := newTestController(&transporttest.Conn{}, &recordSink{})
	if err := c.Stop(); err != nil {
		t.Errorf("Stop() on idle controller returned error: %v", err)
	}
	if _, err := c.Wait(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Wait() on idle controller error = %v", err)
	}
}

func TestStartRejections(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		err  error
	}{
		{"no channels", Request{Config: DefaultConfig()}, ErrNoChannels},
		{"scope trigger", Request{
			Config:   DefaultConfig(),
			Channels: analogChannels(),
			Trigger:  trigger.Spec{{Channel: 0, Match: trigger.One}},
		}, ErrTriggerUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &transporttest.Conn{}
			c, _ := newTestController(conn, &recordSink{})
			if err := c.Start(tt.req); !errors.Is(err, tt.err) {
				t.Errorf("Start() error = %v, expected %v", err, tt.err)
			}
			if len(conn.Written()) != 0 {
				t.Errorf("Start() wrote to the device: % x", conn.Written())
			}
		})
	}
}

// A rejected CONFIG aborts the start before any worker exists.
func TestStartConfigRejected(t *testing.T) {
	conn := newDevice(LogicAnalyzer)
	conn.Respond(protocol.CMD_LA_CONFIG, nak(3))
	sink := &recordSink{}
	c, _ := newTestController(conn, sink)

	err := c.Start(logicRequest(10))
	var devErr *protocol.DeviceError
	if !errors.As(err, &devErr) || devErr.Status != 3 {
		t.Fatalf("Start() error = %v, expected DeviceError", err)
	}
	if c.Alive() {
		t.Errorf("worker started after a failed CONFIG")
	}
	if sink.header != nil {
		t.Errorf("sink began a stream after a failed CONFIG")
	}
	if got := conn.Commands(); !bytes.Equal(got, []byte{protocol.CMD_LA_CONFIG}) {
		t.Errorf("commands = %v", got)
	}
}

func TestStartSilentDevice(t *testing.T) {
	conn := &transporttest.Conn{}
	c, _ := newTestController(conn, &recordSink{})
	if err := c.Start(logicRequest(10)); !protocol.IsTimeout(err) {
		t.Errorf("Start() error = %v, expected timeout", err)
	}
}

func TestWakeDiscardsGarbage(t *testing.T) {
	conn := newDevice(LogicAnalyzer, metadata(2), transporttest.Data(5, 6))
	conn.KeepOnFlush = true
	conn.Push(transporttest.Data(0x12, 0x34, 0x56), transporttest.Data(0x78))
	sink := &recordSink{}
	c, _ := newTestController(conn, sink)

	if err := c.Start(logicRequest(2)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	res := wait(t, c)
	if res.Reason != Completed || len(sink.logic) != 1 || !bytes.Equal(sink.logic[0], []byte{5, 6}) {
		t.Errorf("Result = %v, sink got %v", res.Reason, sink.logic)
	}
}

func TestWakeWithoutControlLines(t *testing.T) {
	conn := newDevice(LogicAnalyzer, metadata(1), transporttest.Data(1))
	conn.LinesErr = transport.ErrNotSupported
	c, _ := newTestController(conn, &recordSink{})
	if err := c.Start(logicRequest(1)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	wait(t, c)

	conn.LinesErr = errors.New("port gone")
	if err := c.Start(logicRequest(1)); err == nil {
		t.Errorf("Start() ignored a line control failure")
	}
}

// A bad chunk acknowledgment ends the session, which still shuts down.
func TestMetadataFailure(t *testing.T) {
	conn := newDevice(LogicAnalyzer, nak(2))
	sink := &recordSink{}
	c, _ := newTestController(conn, sink)

	if err := c.Start(logicRequest(10)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	res := wait(t, c)

	var devErr *protocol.DeviceError
	if res.Reason != Failed || !errors.As(res.Err, &devErr) {
		t.Fatalf("Result = %v, %v", res.Reason, res.Err)
	}
	if devErr.Command != protocol.CMD_LA_GET_CHUNK {
		t.Errorf("DeviceError command = %d", devErr.Command)
	}
	if got := conn.Commands(); got[len(got)-1] != protocol.CMD_LA_STOP {
		t.Errorf("STOP not sent: %v", got)
	}
	if sink.endCount() != 1 {
		t.Errorf("end of stream delivered %d times", sink.endCount())
	}
}

func TestReadFailure(t *testing.T) {
	failure := errors.New("device unplugged")
	conn := newDevice(LogicAnalyzer, metadata(10), transporttest.Data(1, 2), transporttest.Fail(failure))
	sink := &recordSink{}
	c, _ := newTestController(conn, sink)

	if err := c.Start(logicRequest(10)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	res := wait(t, c)

	var terr *protocol.TransportError
	if res.Reason != Failed || !errors.As(res.Err, &terr) || !errors.Is(res.Err, failure) {
		t.Fatalf("Result = %v, %v", res.Reason, res.Err)
	}
	if res.Samples != 2 || !res.Partial() {
		t.Errorf("samples = %d, partial = %v", res.Samples, res.Partial())
	}
	if sink.endCount() != 1 {
		t.Errorf("end of stream delivered %d times", sink.endCount())
	}
}

func TestSinkFailure(t *testing.T) {
	conn := newDevice(LogicAnalyzer, metadata(10), transporttest.Data(1, 2), transporttest.Data(3, 4))
	sink := &recordSink{failOn: 2}
	c, _ := newTestController(conn, sink)

	if err := c.Start(logicRequest(10)); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	res := wait(t, c)
	if res.Reason != Failed || res.Err == nil || res.Samples != 2 {
		t.Errorf("Result = %v, %v, %d samples", res.Reason, res.Err, res.Samples)
	}
	if sink.endCount() != 1 {
		t.Errorf("end of stream delivered %d times", sink.endCount())
	}
}
