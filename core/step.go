package core

import (
	"sync"
	"time"
)

// ExecutionStep records one action taken by the engine: what it tried,
// what it expected and what actually happened. Steps feed reflection
// and serve as a post-hoc audit trail.
type ExecutionStep struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id,omitempty"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Expected  string         `json:"expected,omitempty"`
	Actual    string         `json:"actual,omitempty"`
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
}

// StepLog is the process-wide append-only execution log. Appends from
// concurrently executing children are safe; entries are never mutated
// or removed once recorded.
type StepLog struct {
	mu    sync.RWMutex
	steps []ExecutionStep
}

// NewStepLog constructs an empty log.
func NewStepLog() *StepLog { return &StepLog{} }

// Append records a step, stamping id and timestamp if unset.
func (l *StepLog) Append(step ExecutionStep) {
	if step.ID == "" {
		step.ID = NewID()
	}
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = append(l.steps, step)
}

// All returns a defensive copy of every recorded step in order.
func (l *StepLog) All() []ExecutionStep {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ExecutionStep, len(l.steps))
	copy(out, l.steps)
	return out
}

// Tail returns a copy of the most recent n steps (all steps if fewer).
func (l *StepLog) Tail(n int) []ExecutionStep {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n > len(l.steps) {
		n = len(l.steps)
	}
	out := make([]ExecutionStep, n)
	copy(out, l.steps[len(l.steps)-n:])
	return out
}

// Len returns the number of recorded steps.
func (l *StepLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.steps)
}

// Truncate shortens s to at most max runes, appending an ellipsis
// marker when cut. Used to keep actual outcomes log-sized.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
