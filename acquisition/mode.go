package acquisition

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sergev/snap/protocol"
)

// Mode selects what the instrument streams
type Mode int

const (
	LogicAnalyzer Mode = iota
	Oscilloscope
)

// MaxTransferBytes is the largest single transfer the device performs
const MaxTransferBytes = 32767

// modeTable holds everything that differs between the two modes
type modeTable struct {
	name           string
	config         byte
	start          byte
	stop           byte
	getChunk       byte
	bytesPerSample int
	burst          int // samples per read pass
}

var modes = map[Mode]modeTable{
	LogicAnalyzer: {
		name:           "logic",
		config:         protocol.CMD_LA_CONFIG,
		start:          protocol.CMD_LA_START,
		stop:           protocol.CMD_LA_STOP,
		getChunk:       protocol.CMD_LA_GET_CHUNK,
		bytesPerSample: 1,
		burst:          4681,
	},
	Oscilloscope: {
		name:           "oscilloscope",
		config:         protocol.CMD_OS_CONFIG,
		start:          protocol.CMD_OS_START,
		stop:           protocol.CMD_OS_STOP,
		getChunk:       protocol.CMD_OS_GET_CHUNK,
		bytesPerSample: 2,
		burst:          32767,
	},
}

// ErrUnknownMode is returned for a Mode outside the known set
var ErrUnknownMode = errors.New("unknown acquisition mode")

func (m Mode) table() (modeTable, error) {
	t, ok := modes[m]
	if !ok {
		return modeTable{}, fmt.Errorf("%w %d", ErrUnknownMode, int(m))
	}
	return t, nil
}

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	_, ok := modes[m]
	return ok
}

func (m Mode) String() string {
	if t, ok := modes[m]; ok {
		return t.name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// BytesPerSample returns the wire size of one sample, or 0 for an unknown mode
func (m Mode) BytesPerSample() int {
	return modes[m].bytesPerSample
}

// StopCommand returns the command that halts streaming in this mode.
// An unknown mode yields NOP.
func (m Mode) StopCommand() byte {
	return modes[m].stop
}

// ParseMode accepts "logic"/"la" and "oscilloscope"/"scope"/"os"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "logic", "la", "logic-analyzer":
		return LogicAnalyzer, nil
	case "oscilloscope", "scope", "os", "analog":
		return Oscilloscope, nil
	}
	return 0, fmt.Errorf("unknown acquisition mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}
