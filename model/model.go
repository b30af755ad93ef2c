// Package model defines the reasoning-provider boundary of the engine
// and a deterministic mock used by tests and examples. Concrete
// adapters for hosted APIs live in the anthropic and openai
// subpackages.
package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// Provider is the external text-generation service the engine calls
// for decomposition, execution, reflection and correction decisions.
// The returned text is expected to contain a fenced JSON payload;
// callers must tolerate malformed output.
type Provider interface {
	Chat(ctx context.Context, messages []core.Message) (string, error)
}

// ProviderFunc adapts a plain function to the Provider interface.
type ProviderFunc func(ctx context.Context, messages []core.Message) (string, error)

// Chat implements Provider.
func (f ProviderFunc) Chat(ctx context.Context, messages []core.Message) (string, error) {
	return f(ctx, messages)
}

// MockProvider is a deterministic in-memory Provider for tests and
// examples. Responses match on a substring of the last message in
// registration order (first match wins); a scripted queue takes
// precedence and is consumed in order.
type MockProvider struct {
	mu        sync.Mutex
	responses []mockRule
	script    []string
	err       error
	calls     []core.Message
}

type mockRule struct{ match, response string }

// NewMockProvider constructs an empty mock.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// AddResponse registers a canned reply returned whenever the last
// message contains match. Rules are checked in registration order.
func (m *MockProvider) AddResponse(match, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockRule{match: match, response: response})
}

// Enqueue appends scripted replies returned in order regardless of input.
func (m *MockProvider) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
}

// FailWith makes every subsequent call return err.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the last message of every Chat invocation received.
func (m *MockProvider) Calls() []core.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, messages []core.Message) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(messages) == 0 {
		return "", fmt.Errorf("no messages provided")
	}
	last := messages[len(messages)-1]
	m.calls = append(m.calls, last)

	if m.err != nil {
		return "", m.err
	}
	if len(m.script) > 0 {
		resp := m.script[0]
		m.script = m.script[1:]
		return resp, nil
	}
	for _, rule := range m.responses {
		if strings.Contains(last.Content, rule.match) {
			return rule.response, nil
		}
	}
	return fmt.Sprintf("Mock response to: %s", last.Content), nil
}
