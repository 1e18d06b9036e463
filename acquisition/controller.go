package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sergev/snap/protocol"
	"github.com/sergev/snap/transport"
	"github.com/sergev/snap/trigger"
)

// Timing defaults
const (
	DefaultReadTimeout     = 20 * time.Millisecond
	DefaultResponseTimeout = protocol.DefaultTimeout
	DefaultWakeSettle      = 50 * time.Millisecond
	DefaultDrainTimeout    = 500 * time.Millisecond
	DefaultPollDelay       = time.Millisecond
)

// Wake-up garbage is read in slabs of this size, at most maxDrainSlabs times
const (
	drainSlab     = 1024
	maxDrainSlabs = 1024
)

type options struct {
	readTimeout     time.Duration
	responseTimeout time.Duration
	wakeSettle      time.Duration
	drainTimeout    time.Duration
	pollDelay       time.Duration
	budget          EmptyReadBudget
	scale           AnalogScale
	logger          *logrus.Logger
	observer        Observer
}

// Option adjusts a Controller
type Option func(*options)

// WithReadTimeout sets the per-pass read timeout of the worker; zero makes
// the worker poll with non-blocking reads
func WithReadTimeout(d time.Duration) Option {
	return func(o *options) { o.readTimeout = d }
}

// WithResponseTimeout bounds every command response
func WithResponseTimeout(d time.Duration) Option {
	return func(o *options) { o.responseTimeout = d }
}

// WithWakeSettle sets the delay after asserting the wake lines
func WithWakeSettle(d time.Duration) Option {
	return func(o *options) { o.wakeSettle = d }
}

// WithDrainTimeout sets the read timeout used to discard wake-up garbage
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) { o.drainTimeout = d }
}

// WithPollDelay sets the sleep between empty reads
func WithPollDelay(d time.Duration) Option {
	return func(o *options) { o.pollDelay = d }
}

func WithEmptyReadBudget(b EmptyReadBudget) Option {
	return func(o *options) { o.budget = b }
}

func WithAnalogScale(s AnalogScale) Option {
	return func(o *options) { o.scale = s }
}

func WithLogger(l *logrus.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Controller starts and stops acquisitions on one transport.
// Only one session runs at a time.
type Controller struct {
	mu       sync.Mutex
	link     transport.Transport
	sink     Sink
	opts     options
	log      *logrus.Entry
	sess     *session
	channels Channels
	last     *Result
}

// NewController returns an idle controller
func NewController(link transport.Transport, sink Sink, opts ...Option) *Controller {
	o := options{
		readTimeout:     DefaultReadTimeout,
		responseTimeout: DefaultResponseTimeout,
		wakeSettle:      DefaultWakeSettle,
		drainTimeout:    DefaultDrainTimeout,
		pollDelay:       DefaultPollDelay,
		budget:          DefaultEmptyReadBudget(),
		scale:           DefaultAnalogScale(),
		logger:          logrus.StandardLogger(),
		observer:        nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller{
		link: link,
		sink: sink,
		opts: o,
		log:  logrus.NewEntry(o.logger),
	}
}

// Start wakes the device, begins streaming and spawns the reader.
// Setup failures are returned before any worker exists.
func (c *Controller) Start(req Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		if !c.sess.finished() {
			return ErrAlreadyRunning
		}
		c.reap()
	}

	mode, channels, err := req.Channels.Resolve()
	if err != nil {
		return err
	}
	cfg := req.Config
	cfg.Mode = mode
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if len(req.Trigger) > 0 {
		if mode != LogicAnalyzer {
			return ErrTriggerUnsupported
		}
		if err := req.Trigger.Validate(); err != nil {
			return fmt.Errorf("invalid trigger: %w", err)
		}
	}
	if err := c.opts.budget.Validate(); err != nil {
		return fmt.Errorf("invalid empty read budget: %w", err)
	}

	log := c.log.WithField("mode", mode)
	log.WithFields(logrus.Fields{
		"samplerate": cfg.SampleRate,
		"limit":      cfg.SampleLimit,
		"trigger":    req.Trigger.String(),
	}).Info("Starting acquisition")

	if err := c.wake(log); err != nil {
		return err
	}
	table, err := mode.table()
	if err != nil {
		return err
	}
	if err := BeginStream(c.link, cfg, c.opts.responseTimeout); err != nil {
		if errors.Is(err, ErrStarted) {
			c.abort(cfg.Mode, log)
		}
		return err
	}

	sess := newSession()
	var matcher *trigger.Matcher
	if len(req.Trigger) > 0 {
		matcher, err = trigger.New(req.Trigger, cfg.PreTriggerSamples())
		if err != nil {
			c.abort(cfg.Mode, log)
			return fmt.Errorf("failed to create trigger: %w", err)
		}
	}

	header := Header{
		Mode:        mode,
		SampleRate:  cfg.SampleRate,
		SampleLimit: cfg.SampleLimit,
		Channels:    channels.Enabled(mode),
		Trigger:     req.Trigger.String(),
		Scale:       c.opts.scale,
		Started:     time.Now(),
	}
	if err := c.sink.BeginStream(header); err != nil {
		c.abort(cfg.Mode, log)
		return fmt.Errorf("failed to begin stream: %w", err)
	}

	r := &reader{
		link:            c.link,
		cfg:             cfg,
		table:           table,
		matcher:         matcher,
		sink:            c.sink,
		obs:             c.opts.observer,
		log:             log,
		sess:            sess,
		scale:           c.opts.scale,
		budget:          c.opts.budget,
		readTimeout:     c.opts.readTimeout,
		responseTimeout: c.opts.responseTimeout,
		pollDelay:       c.opts.pollDelay,
		started:         header.Started,
	}
	if names := channels.EnabledNames(Oscilloscope); len(names) > 0 {
		r.channel = names[0]
	}

	c.channels = channels
	sess.running.Store(true)
	c.sess = sess
	c.opts.observer.SessionStarted(mode)
	go r.run()
	return nil
}

// wake asserts DTR and RTS, waits for the device to settle and discards
// whatever it emitted meanwhile
func (c *Controller) wake(log *logrus.Entry) error {
	if err := c.link.SetLines(true, true); err != nil {
		if !errors.Is(err, transport.ErrNotSupported) {
			return fmt.Errorf("failed to assert wake lines: %w", err)
		}
		log.Debug("Transport has no control lines, skipping wake-up")
	}
	time.Sleep(c.opts.wakeSettle)

	if err := c.link.Flush(); err != nil {
		return fmt.Errorf("failed to flush input: %w", err)
	}

	buf := make([]byte, drainSlab)
	discarded := 0
	for i := 0; i < maxDrainSlabs; i++ {
		n, err := c.link.ReadTimeout(buf, c.opts.drainTimeout)
		if err != nil {
			return fmt.Errorf("failed to drain input: %w", err)
		}
		if n == 0 {
			break
		}
		discarded += n
	}
	if discarded > 0 {
		log.Debugf("Discarded %d bytes of wake-up garbage", discarded)
	}
	return nil
}

// abort stops a device that was started but will not be streamed from
func (c *Controller) abort(mode Mode, log *logrus.Entry) {
	if err := protocol.SendCommand(c.link, mode.StopCommand(), nil); err != nil {
		log.Warnf("Failed to send STOP: %v", err)
		return
	}
	if _, err := protocol.ReadResponse(c.link, c.opts.responseTimeout); err != nil {
		log.Warnf("No STOP acknowledgment: %v", err)
	}
}

// reap collects the result of a finished worker. Caller holds c.mu.
func (c *Controller) reap() {
	res := c.sess.result
	c.last = &res
	c.sess = nil
}

// Stop asks the worker to exit and waits for it. Stopping an idle
// controller succeeds.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess == nil {
		return nil
	}
	c.sess.running.Store(false)
	<-c.sess.done
	c.reap()
	return nil
}

// Wait blocks until the current session ends or ctx is done
func (c *Controller) Wait(ctx context.Context) (Result, error) {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		defer c.mu.Unlock()
		if c.last == nil {
			return Result{}, ErrNoSession
		}
		return *c.last, nil
	}
	c.mu.Unlock()

	select {
	case <-sess.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == sess {
		c.reap()
	}
	return sess.result, nil
}

// Alive reports whether a worker is streaming
func (c *Controller) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil && !c.sess.finished()
}

// Samples returns the samples emitted by the current or last session
func (c *Controller) Samples() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return c.sess.samples.Load()
	}
	if c.last != nil {
		return c.last.Samples
	}
	return 0
}

// Triggered reports whether the trigger of the current or last session fired
func (c *Controller) Triggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil {
		return c.sess.triggered.Load()
	}
	return c.last != nil && c.last.Triggered
}

// LastResult returns the outcome of the most recent finished session
func (c *Controller) LastResult() (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != nil && c.sess.finished() {
		c.reap()
	}
	if c.last == nil {
		return Result{}, false
	}
	return *c.last, true
}

// Channels returns the channel set in effect for the last started session
func (c *Controller) Channels() Channels {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels
}
