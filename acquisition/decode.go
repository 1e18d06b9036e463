package acquisition

import (
	"encoding/binary"
	"fmt"
)

// The ADC delivers 10-bit codes in little-endian 16-bit words
const codeMask = 0x3FF

// AnalogScale is the affine transform from ADC code to volts
type AnalogScale struct {
	MaxCode uint16  `json:"max_code" toml:"max_code" yaml:"max_code"`
	Span    float64 `json:"span" toml:"span" yaml:"span"`
	Offset  float64 `json:"offset" toml:"offset" yaml:"offset"`
}

// DefaultAnalogScale maps 0..1023 onto 0..3.3 V
func DefaultAnalogScale() AnalogScale {
	return AnalogScale{MaxCode: 1023, Span: 3.3, Offset: 0}
}

func (s AnalogScale) Validate() error {
	if s.MaxCode == 0 {
		return fmt.Errorf("analog max_code must be positive")
	}
	return nil
}

// Voltage converts one raw code
func (s AnalogScale) Voltage(code uint16) float32 {
	code &= codeMask
	return float32(float64(code)/float64(s.MaxCode)*s.Span + s.Offset)
}

// DecodeAnalog appends the voltages of the complete pairs in raw to out.
// A trailing odd byte is ignored; callers complete the pair first.
func DecodeAnalog(out []float32, raw []byte, scale AnalogScale) []float32 {
	for i := 0; i+1 < len(raw); i += 2 {
		out = append(out, scale.Voltage(binary.LittleEndian.Uint16(raw[i:])))
	}
	return out
}
