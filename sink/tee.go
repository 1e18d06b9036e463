package sink

import (
	"errors"

	"github.com/sergev/snap/acquisition"
)

// Tee forwards every call to several sinks in order
type Tee []acquisition.Sink

// BeginStream ends the sinks that already began when a later one fails
func (t Tee) BeginStream(h acquisition.Header) error {
	for i, s := range t {
		if err := s.BeginStream(h); err != nil {
			return errors.Join(err, t[:i].EndOfStream())
		}
	}
	return nil
}

func (t Tee) DeliverLogic(data []byte, unitSize int) error {
	for _, s := range t {
		if err := s.DeliverLogic(data, unitSize); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) DeliverAnalog(samples []float32, channel string) error {
	for _, s := range t {
		if err := s.DeliverAnalog(samples, channel); err != nil {
			return err
		}
	}
	return nil
}

// EndOfStream reaches every sink even when some fail
func (t Tee) EndOfStream() error {
	var errs []error
	for _, s := range t {
		if err := s.EndOfStream(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
