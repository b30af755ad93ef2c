package executor

import (
	"testing"

	"github.com/hupe1980/taskmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_DeepCopiesContext(t *testing.T) {
	m := NewCheckpointManager(nil)
	task := core.NewTask("migrate", map[string]any{
		"tables": []any{"users", "orders"},
	}, 3)

	require.NoError(t, m.Checkpoint(task))
	task.Context["tables"].([]any)[0] = "mutated"

	cp, ok := m.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, "users", cp.Context["tables"].([]any)[0])
}

func TestCheckpoint_Overwrites(t *testing.T) {
	m := NewCheckpointManager(nil)
	task := core.NewTask("migrate", map[string]any{"phase": "one"}, 3)

	require.NoError(t, m.Checkpoint(task))
	task.Context["phase"] = "two"
	require.NoError(t, m.Checkpoint(task))

	cp, ok := m.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, "two", cp.Context["phase"])
}

func TestRollback_RestoresCheckpointedState(t *testing.T) {
	m := NewCheckpointManager(nil)
	arena := core.NewTaskArena()
	task := core.NewTask("migrate", map[string]any{"phase": "one"}, 3)
	arena.Add(task)

	require.NoError(t, m.Checkpoint(task))
	task.Context["phase"] = "two"
	task.Result = "partial output"
	task.Error = "something broke"
	task.Status = core.TaskFailed

	require.NoError(t, m.Rollback(arena, task))

	assert.Equal(t, map[string]any{"phase": "one"}, task.Context)
	assert.Nil(t, task.Result)
	assert.Empty(t, task.Error)
	assert.Equal(t, core.TaskRolledBack, task.Status)
}

func TestRollback_CascadesToDescendants(t *testing.T) {
	bus := core.NewBus()
	ch := bus.Subscribe()
	m := NewCheckpointManager(bus)

	arena := core.NewTaskArena()
	root := core.NewTask("root", map[string]any{"k": "v"}, 3)
	arena.Add(root)
	child := core.NewTask("child", root.Context, 3)
	arena.AddChild(root, child)
	grandchild := core.NewTask("grandchild", child.Context, 3)
	arena.AddChild(child, grandchild)

	require.NoError(t, m.Checkpoint(child))
	child.Context["k"] = "dirty"
	child.Status = core.TaskCompleted
	child.Result = "done"
	grandchild.Status = core.TaskFailed
	grandchild.Error = "boom"

	require.NoError(t, m.Rollback(arena, root))

	assert.Equal(t, core.TaskRolledBack, root.Status)
	assert.Equal(t, core.TaskRolledBack, child.Status)
	assert.Equal(t, core.TaskRolledBack, grandchild.Status)
	assert.Equal(t, "v", child.Context["k"])
	assert.Nil(t, child.Result)
	assert.Empty(t, grandchild.Error)

	seen := map[string]bool{}
	for range 3 {
		n := <-ch
		assert.Equal(t, core.NotifyTaskRolledBack, n.Kind)
		seen[n.TaskID] = true
	}
	assert.True(t, seen[root.ID])
	assert.True(t, seen[child.ID])
	assert.True(t, seen[grandchild.ID])
}

func TestRollback_WithoutCheckpointStillClears(t *testing.T) {
	m := NewCheckpointManager(nil)
	arena := core.NewTaskArena()
	task := core.NewTask("never attempted", map[string]any{"k": "v"}, 3)
	arena.Add(task)
	task.Result = "stray"
	task.Error = "stray"

	require.NoError(t, m.Rollback(arena, task))

	assert.Equal(t, "v", task.Context["k"])
	assert.Nil(t, task.Result)
	assert.Empty(t, task.Error)
	assert.Equal(t, core.TaskRolledBack, task.Status)
}
