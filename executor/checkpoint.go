package executor

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

// CheckpointManager snapshots task state before each attempt and can
// restore it during whole-run rollback. Only the most recent checkpoint
// per task id is retained. Safe for concurrent use by parallel
// children.
type CheckpointManager struct {
	mu          sync.Mutex
	checkpoints map[string]core.Checkpoint
	bus         *core.Bus
}

// NewCheckpointManager constructs an empty manager. bus may be nil.
func NewCheckpointManager(bus *core.Bus) *CheckpointManager {
	return &CheckpointManager{
		checkpoints: make(map[string]core.Checkpoint),
		bus:         bus,
	}
}

// Checkpoint stores a deep copy of the task's context and result,
// replacing any prior checkpoint for that task id.
func (m *CheckpointManager) Checkpoint(task *core.Task) error {
	ctxCopy, err := core.DeepCopyContext(task.Context)
	if err != nil {
		return fmt.Errorf("checkpoint task %s: %w", task.ID, err)
	}
	resultCopy, err := core.DeepCopyValue(task.Result)
	if err != nil {
		return fmt.Errorf("checkpoint task %s: %w", task.ID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[task.ID] = core.Checkpoint{
		TaskID:    task.ID,
		Context:   ctxCopy,
		Result:    resultCopy,
		Timestamp: time.Now().UTC(),
	}
	return nil
}

// Get returns the stored checkpoint for a task id.
func (m *CheckpointManager) Get(taskID string) (core.Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[taskID]
	return cp, ok
}

// Rollback restores the task from its last checkpoint (when one
// exists), clears result and error, marks it rolled back and then
// recursively rolls back every child top-down. It is a whole-run
// safety net invoked only at the root level, not a per-attempt undo.
func (m *CheckpointManager) Rollback(arena *core.TaskArena, task *core.Task) error {
	m.mu.Lock()
	cp, ok := m.checkpoints[task.ID]
	m.mu.Unlock()

	if ok {
		restored, err := core.DeepCopyContext(cp.Context)
		if err != nil {
			return fmt.Errorf("rollback task %s: %w", task.ID, err)
		}
		task.Context = restored
	}
	task.Result = nil
	task.Error = ""
	task.Status = core.TaskRolledBack

	if m.bus != nil {
		m.bus.Publish(core.Notification{Kind: core.NotifyTaskRolledBack, TaskID: task.ID})
	}

	for _, child := range arena.Children(task) {
		if err := m.Rollback(arena, child); err != nil {
			return err
		}
	}
	return nil
}
