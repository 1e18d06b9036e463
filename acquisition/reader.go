package acquisition

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sergev/snap/protocol"
	"github.com/sergev/snap/transport"
	"github.com/sergev/snap/trigger"
)

// ExitReason tells why a streaming session ended
type ExitReason int

const (
	Completed ExitReason = iota
	Triggered
	Stalled
	Cancelled
	Failed
)

func (r ExitReason) String() string {
	switch r {
	case Completed:
		return "completed"
	case Triggered:
		return "triggered"
	case Stalled:
		return "stalled"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("ExitReason(%d)", int(r))
}

func (r ExitReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *ExitReason) UnmarshalText(text []byte) error {
	for reason := Completed; reason <= Failed; reason++ {
		if reason.String() == string(text) {
			*r = reason
			return nil
		}
	}
	return fmt.Errorf("unknown exit reason %q", text)
}

// StallError ends a session that stopped receiving data
type StallError struct {
	Samples    uint64
	Limit      uint64
	EmptyReads int
}

func (e *StallError) Error() string {
	return fmt.Sprintf("stream stalled after %d empty reads: got %d of %d samples", e.EmptyReads, e.Samples, e.Limit)
}

// Result is the outcome of one session
type Result struct {
	Mode               Mode          `json:"mode"`
	Reason             ExitReason    `json:"reason"`
	Samples            uint64        `json:"samples"`
	Limit              uint64        `json:"limit"`
	Triggered          bool          `json:"triggered"`
	TriggerOffset      uint64        `json:"trigger_offset,omitempty"`
	PreTriggerRetained int           `json:"pre_trigger_retained,omitempty"`
	Metadata           ChunkMetadata `json:"metadata"`
	Duration           time.Duration `json:"duration"`
	Err                error         `json:"-"`
}

// Partial reports a session that ended short of its limit without being
// triggered or cancelled
func (r Result) Partial() bool {
	return (r.Reason == Stalled || r.Reason == Failed) && r.Samples < r.Limit
}

// session is shared between the controller and one worker.
// The controller writes running before the worker starts; the worker writes
// samples and triggered; result is handed over by closing done.
type session struct {
	running   atomic.Bool
	samples   atomic.Uint64
	triggered atomic.Bool
	done      chan struct{}
	result    Result
}

func newSession() *session {
	return &session{done: make(chan struct{})}
}

func (s *session) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// reader is the streaming worker. It owns the transport between spawn and exit.
type reader struct {
	link    transport.Transport
	cfg     Config
	table   modeTable
	matcher *trigger.Matcher
	sink    Sink
	obs     Observer
	log     *logrus.Entry
	sess    *session
	channel string // analog channel name
	scale   AnalogScale
	budget  EmptyReadBudget

	readTimeout     time.Duration
	responseTimeout time.Duration
	pollDelay       time.Duration

	started  time.Time
	metadata ChunkMetadata
}

func (r *reader) run() {
	defer close(r.sess.done)

	res := r.stream()
	r.shutdown(&res)
	r.sess.result = res
}

// result fills in the counters the worker has produced so far
func (r *reader) result(reason ExitReason, err error) Result {
	return Result{
		Mode:      r.cfg.Mode,
		Reason:    reason,
		Samples:   r.sess.samples.Load(),
		Limit:     r.cfg.SampleLimit,
		Triggered: r.sess.triggered.Load(),
		Metadata:  r.metadata,
		Err:       err,
	}
}

func (r *reader) stream() Result {
	meta, err := ReadChunkMetadata(r.stoppable(), r.cfg.Mode, r.responseTimeout)
	if errors.Is(err, errStopped) {
		r.log.Debug("Stop requested while waiting for chunk metadata")
		return r.result(Cancelled, nil)
	}
	if err != nil {
		return r.result(Failed, fmt.Errorf("failed to read chunk metadata: %w", err))
	}
	r.metadata = meta
	expected := r.cfg.SampleLimit * uint64(r.table.bytesPerSample)
	if uint64(meta.TotalBytes) != expected {
		r.log.Debugf("Device announced %d bytes, expected %d", meta.TotalBytes, expected)
	}

	buf := make([]byte, r.table.burst*r.table.bytesPerSample)
	var voltages []float32

	for {
		if !r.sess.running.Load() {
			r.log.Debug("Stop requested")
			return r.result(Cancelled, nil)
		}
		emitted := r.sess.samples.Load()
		if emitted >= r.cfg.SampleLimit {
			return r.result(Completed, nil)
		}

		want := min(r.cfg.SampleLimit-emitted, uint64(r.table.burst))
		n, err := r.read(buf[:int(want)*r.table.bytesPerSample])
		if err != nil {
			return r.result(Failed, &protocol.TransportError{Op: "read samples", Err: err})
		}
		if n == 0 {
			if res, done := r.idle(); done {
				return res
			}
			continue
		}
		r.budget.Reset()
		r.obs.BytesRead(r.cfg.Mode, n)
		r.log.Tracef("Read %d bytes", n)

		if r.cfg.Mode == Oscilloscope {
			if n%2 != 0 {
				if res, done := r.completePair(buf[n : n+1]); done {
					return res
				}
				n++
			}
			voltages = DecodeAnalog(voltages[:0], buf[:n], r.scale)
			if err := r.sink.DeliverAnalog(voltages, r.channel); err != nil {
				return r.result(Failed, fmt.Errorf("failed to deliver samples: %w", err))
			}
			r.advance(len(voltages))
			continue
		}

		rows := buf[:n]
		if r.matcher != nil {
			if offset, pre, ok := r.matcher.Check(rows); ok {
				rows = rows[offset:]
				if len(rows) > 0 {
					if err := r.sink.DeliverLogic(rows, 1); err != nil {
						return r.result(Failed, fmt.Errorf("failed to deliver samples: %w", err))
					}
					r.advance(len(rows))
				}
				r.sess.triggered.Store(true)
				res := r.result(Triggered, nil)
				res.TriggerOffset, _ = r.matcher.StreamOffset()
				res.PreTriggerRetained = pre
				r.log.WithField("offset", res.TriggerOffset).Info("Trigger fired")
				return res
			}
		}
		if err := r.sink.DeliverLogic(rows, 1); err != nil {
			return r.result(Failed, fmt.Errorf("failed to deliver samples: %w", err))
		}
		r.advance(len(rows))
	}
}

func (r *reader) read(p []byte) (int, error) {
	if r.readTimeout <= 0 {
		return r.link.ReadNonBlocking(p)
	}
	return r.link.ReadTimeout(p, r.readTimeout)
}

// errStopped ends a sliced read when the session is asked to stop
var errStopped = errors.New("stop requested")

// slicedLink splits every timed read into slices of at most one read timeout
// and checks the running flag between them. The caller's timeout still bounds
// the whole read.
type slicedLink struct {
	transport.Transport
	slice   time.Duration
	running *atomic.Bool
}

func (r *reader) stoppable() slicedLink {
	slice := r.readTimeout
	if slice <= 0 {
		slice = DefaultReadTimeout
	}
	return slicedLink{Transport: r.link, slice: slice, running: &r.sess.running}
}

func (l slicedLink) ReadTimeout(p []byte, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		if !l.running.Load() {
			return 0, errStopped
		}
		wait := min(l.slice, time.Until(deadline))
		if wait <= 0 {
			return 0, nil
		}
		n, err := l.Transport.ReadTimeout(p, wait)
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (r *reader) advance(n int) {
	r.sess.samples.Add(uint64(n))
	r.obs.SamplesEmitted(r.cfg.Mode, n)
}

// idle handles an empty read. It reports true when the session must end.
func (r *reader) idle() (Result, bool) {
	r.obs.EmptyRead(r.cfg.Mode)
	switch r.budget.Miss() {
	case BudgetWarn:
		r.log.Warnf("No data for %d consecutive reads", r.budget.Count())
	case BudgetNudge:
		r.log.Warnf("No data for %d consecutive reads, sending NOP", r.budget.Count())
		r.obs.Nudged(r.cfg.Mode)
		if err := protocol.SendCommand(r.link, protocol.CMD_NOP, nil); err != nil {
			r.log.Warnf("Failed to send NOP: %v", err)
		}
	case BudgetStall:
		err := &StallError{
			Samples:    r.sess.samples.Load(),
			Limit:      r.cfg.SampleLimit,
			EmptyReads: r.budget.Count(),
		}
		r.log.Error(err)
		return r.result(Stalled, err), true
	}
	time.Sleep(r.pollDelay)
	return Result{}, false
}

// completePair reads the byte that finishes a split 16-bit sample
func (r *reader) completePair(p []byte) (Result, bool) {
	r.log.Debug("Odd byte count, waiting for the rest of the sample")
	for {
		if !r.sess.running.Load() {
			return r.result(Cancelled, nil), true
		}
		n, err := r.read(p)
		if err != nil {
			return r.result(Failed, &protocol.TransportError{Op: "read samples", Err: err}), true
		}
		if n == 1 {
			r.budget.Reset()
			r.obs.BytesRead(r.cfg.Mode, 1)
			return Result{}, false
		}
		if res, done := r.idle(); done {
			return res, true
		}
	}
}

// shutdown runs exactly once on every exit path
func (r *reader) shutdown(res *Result) {
	if err := r.link.Flush(); err != nil {
		r.log.Warnf("Failed to flush input: %v", err)
	}

	if err := protocol.SendCommand(r.link, r.table.stop, nil); err != nil {
		r.log.Warnf("Failed to send STOP: %v", err)
	} else if resp, err := protocol.ReadResponse(r.link, r.responseTimeout); err != nil {
		r.log.Warnf("No STOP acknowledgment: %v", err)
	} else if err := resp.Err(r.table.stop); err != nil {
		r.log.Warn(err)
	}

	if r.matcher != nil {
		r.matcher.Release()
	}

	if err := r.sink.EndOfStream(); err != nil {
		r.log.Errorf("Failed to end stream: %v", err)
		if res.Err == nil {
			res.Reason = Failed
			res.Err = fmt.Errorf("failed to end stream: %w", err)
		}
	}

	res.Duration = time.Since(r.started)
	r.obs.SessionFinished(*res)

	entry := r.log.WithFields(logrus.Fields{
		"reason":  res.Reason,
		"samples": res.Samples,
		"limit":   res.Limit,
	})
	if res.Err != nil {
		entry = entry.WithError(res.Err)
	}
	entry.Info("Read thread exiting")
}
