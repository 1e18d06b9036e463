package acquisition

import "fmt"

// Empty read watermarks
const (
	DefaultWarnAfter  = 5
	DefaultNudgeAfter = 100
	DefaultStallAfter = 200
)

// BudgetAction is what the reader does after an empty read
type BudgetAction int

const (
	BudgetWait BudgetAction = iota
	BudgetWarn
	BudgetNudge
	BudgetStall
)

// EmptyReadBudget counts consecutive reads that returned no data.
// Warn is logged once, the device is nudged once with a NOP, and the
// stream is declared stalled when Stall is reached.
type EmptyReadBudget struct {
	Warn  int `json:"warn" toml:"warn" yaml:"warn"`
	Nudge int `json:"nudge" toml:"nudge" yaml:"nudge"`
	Stall int `json:"stall" toml:"stall" yaml:"stall"`

	count int
}

// DefaultEmptyReadBudget returns the 5/100/200 watermarks
func DefaultEmptyReadBudget() EmptyReadBudget {
	return EmptyReadBudget{Warn: DefaultWarnAfter, Nudge: DefaultNudgeAfter, Stall: DefaultStallAfter}
}

// Validate checks that the watermarks are positive and ordered
func (b EmptyReadBudget) Validate() error {
	if b.Stall <= 0 {
		return fmt.Errorf("stall threshold must be positive")
	}
	if b.Warn < 0 || b.Nudge < 0 {
		return fmt.Errorf("empty read thresholds must not be negative")
	}
	if b.Warn > b.Stall || b.Nudge > b.Stall {
		return fmt.Errorf("warn (%d) and nudge (%d) must not exceed stall (%d)", b.Warn, b.Nudge, b.Stall)
	}
	return nil
}

// Miss records an empty read and returns the action it calls for
func (b *EmptyReadBudget) Miss() BudgetAction {
	b.count++
	switch {
	case b.count >= b.Stall:
		return BudgetStall
	case b.count == b.Nudge:
		return BudgetNudge
	case b.count == b.Warn:
		return BudgetWarn
	}
	return BudgetWait
}

// Reset is called whenever data arrives
func (b *EmptyReadBudget) Reset() {
	b.count = 0
}

// Count returns the current run of empty reads
func (b *EmptyReadBudget) Count() int {
	return b.count
}
