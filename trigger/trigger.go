// Package trigger implements the software trigger of the logic analyzer.
//
// A Spec lists one condition per channel. Logic rows are one byte per sample,
// bit N holding channel N. A row matches when every condition holds; edge
// conditions compare a row with the row before it, which is carried across
// calls to Check so that the result does not depend on how the stream was
// split into buffers.
package trigger

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NumChannels is the number of logic channels a condition may refer to
const NumChannels = 8

// Match is the condition applied to one channel
type Match int

const (
	Zero Match = iota
	One
	Rising
	Falling
	Edge
)

var matchLetters = map[Match]byte{
	Zero:    '0',
	One:     '1',
	Rising:  'r',
	Falling: 'f',
	Edge:    'e',
}

func (m Match) String() string {
	if c, ok := matchLetters[m]; ok {
		return string(c)
	}
	return fmt.Sprintf("Match(%d)", int(m))
}

// isEdge reports whether the match needs the previous row
func (m Match) isEdge() bool {
	return m == Rising || m == Falling || m == Edge
}

// Condition ties a match to a channel index
type Condition struct {
	Channel int
	Match   Match
}

// Spec is an ordered list of conditions; empty means no trigger
type Spec []Condition

var (
	ErrEmptySpec        = errors.New("trigger has no conditions")
	ErrInvalidChannel   = errors.New("invalid trigger channel")
	ErrDuplicateChannel = errors.New("duplicate trigger channel")
	ErrInvalidMatch     = errors.New("invalid trigger match")
)

// ParseSpec parses the host syntax "0=r,3=1".
// Match letters are 0, 1, r (rising), f (falling) and e (either edge).
func ParseSpec(s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var spec Spec
	for _, field := range strings.Split(s, ",") {
		ch, m, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			return nil, fmt.Errorf("trigger condition %q: expected CHANNEL=MATCH", field)
		}
		channel, err := strconv.Atoi(strings.TrimSpace(ch))
		if err != nil {
			return nil, fmt.Errorf("trigger condition %q: %w", field, ErrInvalidChannel)
		}
		match, err := parseMatch(strings.TrimSpace(m))
		if err != nil {
			return nil, fmt.Errorf("trigger condition %q: %w", field, err)
		}
		spec = append(spec, Condition{Channel: channel, Match: match})
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func parseMatch(s string) (Match, error) {
	if len(s) == 1 {
		for m, c := range matchLetters {
			if c == s[0] {
				return m, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMatch, s)
}

// String formats the spec in the syntax accepted by ParseSpec
func (s Spec) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = fmt.Sprintf("%d=%s", c.Channel, c.Match)
	}
	return strings.Join(parts, ",")
}

// Validate checks channel range, match values and duplicates
func (s Spec) Validate() error {
	if len(s) == 0 {
		return ErrEmptySpec
	}
	var seen uint8
	for _, c := range s {
		if c.Channel < 0 || c.Channel >= NumChannels {
			return fmt.Errorf("%w: %d", ErrInvalidChannel, c.Channel)
		}
		if _, ok := matchLetters[c.Match]; !ok {
			return fmt.Errorf("%w: %d", ErrInvalidMatch, int(c.Match))
		}
		bit := uint8(1) << c.Channel
		if seen&bit != 0 {
			return fmt.Errorf("%w: %d", ErrDuplicateChannel, c.Channel)
		}
		seen |= bit
	}
	return nil
}

// Matcher is a single-shot trigger over a stream of logic rows.
// It is owned by one goroutine.
type Matcher struct {
	// Rows must equal value under mask; edge bits must differ from the previous row
	mask, value     uint8
	rising, falling uint8
	edge            uint8
	needsPrev       bool

	prev     uint8
	havePrev bool
	consumed uint64 // rows scanned before the current buffer
	fired    bool
	offset   uint64 // stream position of the trigger row

	ring     []byte
	ringHead int
	ringLen  int
	released bool
}

// New builds a matcher that retains up to preTriggerSamples rows while armed
func New(spec Spec, preTriggerSamples int) (*Matcher, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if preTriggerSamples < 0 {
		preTriggerSamples = 0
	}
	m := &Matcher{ring: make([]byte, preTriggerSamples)}
	for _, c := range spec {
		bit := uint8(1) << c.Channel
		switch c.Match {
		case Zero:
			m.mask |= bit
		case One:
			m.mask |= bit
			m.value |= bit
		case Rising:
			m.rising |= bit
		case Falling:
			m.falling |= bit
		case Edge:
			m.edge |= bit
		}
		if c.Match.isEdge() {
			m.needsPrev = true
		}
	}
	return m, nil
}

func (m *Matcher) matches(row uint8) bool {
	if row&m.mask != m.value {
		return false
	}
	if !m.needsPrev {
		return true
	}
	if !m.havePrev {
		return false
	}
	changed := row ^ m.prev
	if m.rising != 0 && (changed&row)&m.rising != m.rising {
		return false
	}
	if m.falling != 0 && (changed&^row)&m.falling != m.falling {
		return false
	}
	return changed&m.edge == m.edge
}

// Check scans buf for the first row satisfying every condition.
// On a match it returns the row's index in buf and the number of rows
// retained before it. Once fired, the matcher returns ok=false.
func (m *Matcher) Check(buf []byte) (offset int, preTrigger int, ok bool) {
	if m.fired || m.released {
		return 0, 0, false
	}
	for i, row := range buf {
		if m.matches(row) {
			m.fired = true
			m.offset = m.consumed + uint64(i)
			m.prev, m.havePrev = row, true
			m.consumed += uint64(len(buf))
			return i, m.ringLen, true
		}
		m.retain(row)
		m.prev, m.havePrev = row, true
	}
	m.consumed += uint64(len(buf))
	return 0, 0, false
}

// retain pushes a row into the pre-trigger ring, dropping the oldest
func (m *Matcher) retain(row byte) {
	size := len(m.ring)
	if size == 0 {
		return
	}
	m.ring[(m.ringHead+m.ringLen)%size] = row
	if m.ringLen < size {
		m.ringLen++
	} else {
		m.ringHead = (m.ringHead + 1) % size
	}
}

// Fired reports whether the trigger has matched
func (m *Matcher) Fired() bool {
	return m.fired
}

// StreamOffset returns the trigger position counted from the stream start
func (m *Matcher) StreamOffset() (uint64, bool) {
	return m.offset, m.fired
}

// PreTrigger returns the retained rows, oldest first
func (m *Matcher) PreTrigger() []byte {
	out := make([]byte, m.ringLen)
	for i := range out {
		out[i] = m.ring[(m.ringHead+i)%len(m.ring)]
	}
	return out
}

// Release drops the pre-trigger ring. Further calls are no-ops.
func (m *Matcher) Release() {
	if m.released {
		return
	}
	m.released = true
	m.ring = nil
	m.ringHead, m.ringLen = 0, 0
}
