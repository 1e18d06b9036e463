// Package sink provides destinations for decoded sample records.
package sink

import (
	"sync"

	"github.com/sergev/snap/acquisition"
)

// Memory keeps a whole capture in memory
type Memory struct {
	mu      sync.Mutex
	header  acquisition.Header
	begun   bool
	logic   []byte
	analog  []float32
	records int
	ended   bool
}

// NewMemory returns an empty in-memory sink
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) BeginStream(h acquisition.Header) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.header = h
	m.begun = true
	m.logic = m.logic[:0]
	m.analog = m.analog[:0]
	m.records = 0
	m.ended = false
	return nil
}

func (m *Memory) DeliverLogic(data []byte, unitSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logic = append(m.logic, data...)
	m.records++
	return nil
}

func (m *Memory) DeliverAnalog(samples []float32, channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analog = append(m.analog, samples...)
	m.records++
	return nil
}

func (m *Memory) EndOfStream() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = true
	return nil
}

// Summary describes what a Memory sink holds
type Summary struct {
	Header  acquisition.Header `json:"header"`
	Records int                `json:"records"`
	Samples int                `json:"samples"`
	Ended   bool               `json:"ended"`
}

// Summary returns the header and counts of the current capture
func (m *Memory) Summary() (Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Summary{
		Header:  m.header,
		Records: m.records,
		Samples: len(m.logic) + len(m.analog),
		Ended:   m.ended,
	}, m.begun
}

// Logic returns a copy of the logic rows received so far
func (m *Memory) Logic() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.logic...)
}

// Analog returns a copy of the voltages received so far
func (m *Memory) Analog() []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float32(nil), m.analog...)
}

// Ended reports whether the end of stream was seen
func (m *Memory) Ended() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ended
}
