package model

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/taskmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chat(t *testing.T, p Provider, content string) string {
	t.Helper()
	reply, err := p.Chat(context.Background(), []core.Message{
		core.NewMessage(core.RoleUser, content),
	})
	require.NoError(t, err)
	return reply
}

func TestMockProvider_FirstRegisteredMatchWins(t *testing.T) {
	p := NewMockProvider()
	p.AddResponse("Approach:", "execution reply")
	p.AddResponse("Task:", "decomposition reply")

	assert.Equal(t, "execution reply", chat(t, p, "Task: x\nApproach: y"))
	assert.Equal(t, "decomposition reply", chat(t, p, "Task: x\nContext: {}"))
}

func TestMockProvider_FallbackEchoes(t *testing.T) {
	p := NewMockProvider()
	reply := chat(t, p, "unmatched input")
	assert.Contains(t, reply, "unmatched input")
}

func TestMockProvider_ScriptTakesPrecedence(t *testing.T) {
	p := NewMockProvider()
	p.AddResponse("Task:", "canned")
	p.Enqueue("first", "second")

	assert.Equal(t, "first", chat(t, p, "Task: anything"))
	assert.Equal(t, "second", chat(t, p, "Task: anything"))
	assert.Equal(t, "canned", chat(t, p, "Task: anything"))
}

func TestMockProvider_FailWith(t *testing.T) {
	p := NewMockProvider()
	p.FailWith(errors.New("backend down"))

	_, err := p.Chat(context.Background(), []core.Message{core.NewMessage(core.RoleUser, "x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend down")
}

func TestMockProvider_RecordsCalls(t *testing.T) {
	p := NewMockProvider()
	chat(t, p, "one")
	chat(t, p, "two")

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "one", calls[0].Content)
	assert.Equal(t, "two", calls[1].Content)
}

func TestMockProvider_CancelledContext(t *testing.T) {
	p := NewMockProvider()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Chat(ctx, []core.Message{core.NewMessage(core.RoleUser, "x")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockProvider_NoMessages(t *testing.T) {
	p := NewMockProvider()
	_, err := p.Chat(context.Background(), nil)
	assert.Error(t, err)
}

func TestProviderFunc(t *testing.T) {
	p := ProviderFunc(func(ctx context.Context, messages []core.Message) (string, error) {
		return "from func", nil
	})
	assert.Equal(t, "from func", chat(t, p, "x"))
}
