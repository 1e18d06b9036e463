package acquisition

import "time"

// Header describes a stream before its first record
type Header struct {
	Mode        Mode        `json:"mode"`
	SampleRate  uint64      `json:"samplerate"`
	SampleLimit uint64      `json:"limit"`
	Channels    []Channel   `json:"channels"`
	Trigger     string      `json:"trigger,omitempty"`
	Scale       AnalogScale `json:"scale"`
	Started     time.Time   `json:"started"`
}

// Sink receives decoded records in stream order.
// Slices passed to Deliver* are reused after the call returns.
// EndOfStream is always the last call of a session.
type Sink interface {
	BeginStream(h Header) error
	DeliverLogic(data []byte, unitSize int) error
	DeliverAnalog(samples []float32, channel string) error
	EndOfStream() error
}

// Observer is told about session progress, for metrics
type Observer interface {
	SessionStarted(mode Mode)
	BytesRead(mode Mode, n int)
	SamplesEmitted(mode Mode, n int)
	EmptyRead(mode Mode)
	Nudged(mode Mode)
	SessionFinished(res Result)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(Mode) {}
func (nopObserver) BytesRead(Mode, int) {}
func (nopObserver) SamplesEmitted(Mode, int) {}
func (nopObserver) EmptyRead(Mode) {}
func (nopObserver) Nudged(Mode) {}
func (nopObserver) SessionFinished(Result) {}
