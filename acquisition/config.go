package acquisition

import (
	"errors"
	"fmt"
	"math"

	"github.com/sergev/snap/trigger"
)

// Defaults of the instrument
const (
	DefaultSampleRate   = 1000000
	DefaultSampleLimit  = 1000000
	DefaultCaptureRatio = 20
)

// MaxPreTriggerSamples caps the rows the trigger matcher keeps while armed
const MaxPreTriggerSamples = 1 << 24

var (
	ErrAlreadyRunning     = errors.New("acquisition already running")
	ErrNoChannels         = errors.New("no channels enabled")
	ErrTriggerUnsupported = errors.New("trigger is only supported in logic mode")
	ErrNoSession          = errors.New("no acquisition has been started")
)

// Config is fixed for the lifetime of one acquisition
type Config struct {
	Mode         Mode   `json:"mode"`
	SampleRate   uint64 `json:"samplerate"`
	SampleLimit  uint64 `json:"limit"`
	CaptureRatio uint8  `json:"capture_ratio"`
}

// DefaultConfig returns the power-on settings of the instrument
func DefaultConfig() Config {
	return Config{
		Mode:         LogicAnalyzer,
		SampleRate:   DefaultSampleRate,
		SampleLimit:  DefaultSampleLimit,
		CaptureRatio: DefaultCaptureRatio,
	}
}

// Validate rejects values the device cannot represent
func (c Config) Validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid mode %d", int(c.Mode))
	}
	if c.SampleRate == 0 {
		return errors.New("sample rate must be positive")
	}
	if c.SampleRate > math.MaxUint32 {
		return fmt.Errorf("sample rate %d does not fit the 32-bit wire field", c.SampleRate)
	}
	if c.CaptureRatio > 100 {
		return fmt.Errorf("capture ratio %d%% out of range 0-100", c.CaptureRatio)
	}
	return nil
}

// PreTriggerSamples is the number of rows retained before a trigger
func (c Config) PreTriggerSamples() int {
	n := uint64(c.CaptureRatio) * c.SampleLimit / 100
	if n > MaxPreTriggerSamples {
		n = MaxPreTriggerSamples
	}
	return int(n)
}

// Channel is one probe input
type Channel struct {
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Enabled bool   `json:"enabled"`
}

// Channels lists the logic and analog inputs of the instrument
type Channels struct {
	Logic  []Channel `json:"logic"`
	Analog []Channel `json:"analog"`
}

// Resolve picks the mode from the enabled channels. An enabled analog
// channel selects the oscilloscope and disables every logic channel for
// the session, since the device streams one mode at a time.
func (c Channels) Resolve() (Mode, Channels, error) {
	eff := Channels{Analog: append([]Channel(nil), c.Analog...)}
	for _, ch := range c.Analog {
		if ch.Enabled {
			for _, l := range c.Logic {
				l.Enabled = false
				eff.Logic = append(eff.Logic, l)
			}
			return Oscilloscope, eff, nil
		}
	}
	for _, l := range c.Logic {
		if l.Enabled {
			eff.Logic = append(eff.Logic, c.Logic...)
			return LogicAnalyzer, eff, nil
		}
	}
	return 0, Channels{}, ErrNoChannels
}

// Enabled returns the enabled channels of the given mode
func (c Channels) Enabled(mode Mode) []Channel {
	list := c.Logic
	if mode == Oscilloscope {
		list = c.Analog
	}
	var out []Channel
	for _, ch := range list {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

// EnabledNames returns the names of the enabled channels of the given mode
func (c Channels) EnabledNames(mode Mode) []string {
	var names []string
	for _, ch := range c.Enabled(mode) {
		names = append(names, ch.Name)
	}
	return names
}

// Request is what the host supplies to start an acquisition
type Request struct {
	Config   Config       `json:"config"`
	Channels Channels     `json:"channels"`
	Trigger  trigger.Spec `json:"-"`
}
