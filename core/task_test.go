package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask_CopiesContext(t *testing.T) {
	ctx := map[string]any{"key": "value"}
	task := NewTask("do something", ctx, 3)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, 3, task.MaxAttempts)
	assert.True(t, task.IsLeaf())

	// Mutating the caller's map must not leak into the task.
	ctx["key"] = "changed"
	assert.Equal(t, "value", task.Context["key"])
}

func TestTask_BeginAttempt(t *testing.T) {
	task := NewTask("do something", nil, 3)
	assert.Equal(t, "do something", task.CurrentApproach())

	a1 := task.BeginAttempt("do something")
	assert.Equal(t, 1, a1.Number)
	assert.Equal(t, 1, task.AttemptCount)

	a2 := task.BeginAttempt("try a different angle")
	assert.Equal(t, 2, a2.Number)
	assert.Equal(t, "try a different angle", task.CurrentApproach())

	// Earlier attempt records stay untouched.
	assert.Equal(t, "do something", task.Attempts[0].Approach)
}

func TestTask_MergeContext(t *testing.T) {
	task := NewTask("do something", map[string]any{"a": 1}, 3)
	task.MergeContext(map[string]any{"a": 2, "b": "x"})

	assert.Equal(t, 2, task.Context["a"])
	assert.Equal(t, "x", task.Context["b"])
}

func TestTaskStatus_Terminal(t *testing.T) {
	assert.True(t, TaskCompleted.Terminal())
	assert.True(t, TaskFailed.Terminal())
	assert.True(t, TaskRolledBack.Terminal())
	assert.False(t, TaskPending.Terminal())
	assert.False(t, TaskExecuting.Terminal())
}

func TestTaskArena_AddChildAndDepth(t *testing.T) {
	arena := NewTaskArena()
	root := NewTask("root", nil, 3)
	arena.Add(root)

	child := NewTask("child", nil, 3)
	arena.AddChild(root, child)
	grandchild := NewTask("grandchild", nil, 3)
	arena.AddChild(child, grandchild)

	require.Equal(t, []string{child.ID}, root.SubTaskIDs)
	assert.Equal(t, root.ID, child.ParentID)

	assert.Equal(t, 0, arena.Depth(root))
	assert.Equal(t, 1, arena.Depth(child))
	assert.Equal(t, 2, arena.Depth(grandchild))
	assert.Equal(t, 2, arena.MaxTreeDepth(root))
	assert.Equal(t, 0, arena.MaxTreeDepth(grandchild))

	children := arena.Children(root)
	require.Len(t, children, 1)
	assert.Same(t, child, children[0])
	assert.Equal(t, 3, arena.Len())
}

func TestDeepCopyContext_Isolation(t *testing.T) {
	original := map[string]any{
		"nested": map[string]any{"key": "value"},
		"list":   []any{1.0, 2.0},
	}
	cp, err := DeepCopyContext(original)
	require.NoError(t, err)

	cp["nested"].(map[string]any)["key"] = "changed"
	assert.Equal(t, "value", original["nested"].(map[string]any)["key"])
}

func TestDeepCopyContext_Nil(t *testing.T) {
	cp, err := DeepCopyContext(nil)
	require.NoError(t, err)
	assert.NotNil(t, cp)
	assert.Empty(t, cp)
}
