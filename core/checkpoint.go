package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is a pre-attempt snapshot of a task's context and result.
// Only the most recent checkpoint per task is retained; retry reads it
// for bookkeeping and whole-run rollback restores from it.
type Checkpoint struct {
	TaskID    string         `json:"task_id"`
	Context   map[string]any `json:"context"`
	Result    any            `json:"result,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// DeepCopyContext returns a deep copy of a task context via a JSON
// round-trip. Values must therefore be JSON-serializable, which holds
// for everything the engine writes into a context.
func DeepCopyContext(ctx map[string]any) (map[string]any, error) {
	if ctx == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(ctx)
	if err != nil {
		return nil, fmt.Errorf("deep copy context: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("deep copy context: %w", err)
	}
	return out, nil
}

// DeepCopyValue deep copies an arbitrary JSON-serializable value.
func DeepCopyValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("deep copy value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("deep copy value: %w", err)
	}
	return out, nil
}
