package core

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus tracks a task through its execution lifecycle.
type TaskStatus string

const (
	// TaskPending indicates the task has been created but not started.
	TaskPending TaskStatus = "pending"
	// TaskDecomposing indicates the task is being broken into subtasks.
	TaskDecomposing TaskStatus = "decomposing"
	// TaskExecuting indicates an execution attempt is in flight.
	TaskExecuting TaskStatus = "executing"
	// TaskReflecting indicates a candidate result is being evaluated.
	TaskReflecting TaskStatus = "reflecting"
	// TaskCorrecting indicates a self-correction step is in flight.
	TaskCorrecting TaskStatus = "correcting"
	// TaskCompleted is a terminal success state.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed is a terminal failure state.
	TaskFailed TaskStatus = "failed"
	// TaskRolledBack is a terminal state reached via rollback.
	TaskRolledBack TaskStatus = "rolled_back"
)

// Terminal reports whether the status is one of the three end states.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskRolledBack
}

// Task is a unit of work in the decomposition tree. Leaf tasks perform
// actual work through the reasoning provider; tasks with subtasks only
// aggregate their children's results.
//
// Description is the original submission and never changes. The
// approach actually used for a given attempt lives in the Attempts
// history so the execution-step log remains a faithful audit trail.
type Task struct {
	ID           string         `json:"id"`
	Description  string         `json:"description"`
	Context      map[string]any `json:"context"`
	ParentID     string         `json:"parent_id,omitempty"`
	SubTaskIDs   []string       `json:"sub_task_ids,omitempty"`
	Status       TaskStatus     `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	MaxAttempts  int            `json:"max_attempts"`
	Attempts     []TaskAttempt  `json:"attempts,omitempty"`
	Result       any            `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	StartedAt    time.Time      `json:"started_at,omitempty"`
	CompletedAt  time.Time      `json:"completed_at,omitempty"`
}

// TaskAttempt is an immutable per-retry record. A reflection or
// self-correction step that revises the approach appends a new record
// with the same task id instead of rewriting the task in place.
type TaskAttempt struct {
	Number    int       `json:"number"`
	Approach  string    `json:"approach"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// NewTask creates a pending task with its own copy of the supplied
// context. The caller owns linking it into an arena.
func NewTask(description string, taskContext map[string]any, maxAttempts int) *Task {
	ctx := make(map[string]any, len(taskContext))
	for k, v := range taskContext {
		ctx[k] = v
	}
	return &Task{
		ID:          NewID(),
		Description: description,
		Context:     ctx,
		Status:      TaskPending,
		MaxAttempts: maxAttempts,
	}
}

// IsLeaf reports whether the task has no subtasks.
func (t *Task) IsLeaf() bool { return len(t.SubTaskIDs) == 0 }

// CurrentApproach returns the approach of the latest attempt, falling
// back to the original description before the first attempt starts.
func (t *Task) CurrentApproach() string {
	if len(t.Attempts) == 0 {
		return t.Description
	}
	return t.Attempts[len(t.Attempts)-1].Approach
}

// BeginAttempt increments the attempt counter and appends an immutable
// attempt record using the given approach. It must not be called once
// AttemptCount has reached MaxAttempts.
func (t *Task) BeginAttempt(approach string) *TaskAttempt {
	t.AttemptCount++
	t.Attempts = append(t.Attempts, TaskAttempt{
		Number:    t.AttemptCount,
		Approach:  approach,
		StartedAt: time.Now().UTC(),
	})
	return &t.Attempts[len(t.Attempts)-1]
}

// MergeContext copies all pairs from delta into the task context,
// overwriting existing keys.
func (t *Task) MergeContext(delta map[string]any) {
	if t.Context == nil {
		t.Context = map[string]any{}
	}
	for k, v := range delta {
		t.Context[k] = v
	}
}

// NewID generates a unique identifier for tasks, goals and steps.
func NewID() string { return uuid.NewString() }
