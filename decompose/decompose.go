// Package decompose implements recursive task decomposition: the
// reasoning provider is asked whether a task needs breaking down and,
// if so, into which ordered subtasks. Recursion is bounded by a maximum
// depth and any unparseable provider reply degrades to "no
// decomposition" so work is never silently dropped.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/jsonx"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/model"
)

const (
	minSubTasks = 2
	maxSubTasks = 5
)

const systemPrompt = `You are a task planner. Decide whether the given task needs to be broken down into smaller subtasks.

Rules:
- PREFER no decomposition for any simple, directly executable task.
- Decompose ONLY when the task genuinely consists of separable steps.
- When decomposing, produce between 2 and 5 subtasks in execution order.
- Each subtask gets a concrete one-sentence description and any context the executor needs beyond the parent's context.
- depends_on lists the zero-based indexes of earlier subtasks whose output this subtask needs.

Respond with ONLY a fenced JSON block:
` + "```json" + `
{
  "should_decompose": false,
  "subtasks": [
    {"description": "...", "context": {}, "depends_on": []}
  ]
}
` + "```"

// subTaskSpec is one planned subtask in the provider reply.
type subTaskSpec struct {
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	DependsOn   []int          `json:"depends_on,omitempty"`
}

// plan is the decoded decomposition reply.
type plan struct {
	ShouldDecompose bool          `json:"should_decompose"`
	SubTasks        []subTaskSpec `json:"subtasks,omitempty"`
}

// Engine asks the reasoning provider for decomposition plans and
// materializes them as child tasks in the arena.
type Engine struct {
	provider    model.Provider
	maxDepth    int
	maxAttempts int
	bus         *core.Bus
	logger      logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus sets the notification bus task:decomposing events are
// published to.
func WithBus(bus *core.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithLogger sets the engine's logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New constructs a decomposition engine. maxDepth bounds recursion;
// maxAttempts is inherited by every created child task.
func New(provider model.Provider, maxDepth, maxAttempts int, opts ...Option) *Engine {
	e := &Engine{
		provider:    provider,
		maxDepth:    maxDepth,
		maxAttempts: maxAttempts,
		logger:      logging.NoOpLogger{},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Decompose expands task into subtasks, recursing depth-first into
// each child before moving to the next sibling. At depth >= maxDepth
// the task is treated as a leaf. A malformed provider reply also
// leaves the task a leaf; only provider transport errors propagate.
func (e *Engine) Decompose(ctx context.Context, arena *core.TaskArena, task *core.Task, depth int) error {
	if depth >= e.maxDepth {
		return nil
	}

	task.Status = core.TaskDecomposing
	e.publish(task)

	reply, err := e.provider.Chat(ctx, []core.Message{
		core.NewMessage(core.RoleSystem, systemPrompt),
		core.NewMessage(core.RoleUser, e.buildPrompt(task)),
	})
	if err != nil {
		task.Status = core.TaskPending
		return fmt.Errorf("decomposition provider call: %w", err)
	}

	var p plan
	if err := jsonx.Decode(reply, &p); err != nil {
		// Fail-safe default: an unparseable plan means no decomposition.
		e.logger.Warn("decomposition reply unparseable, treating task as leaf", "task_id", task.ID, "err", err)
		task.Status = core.TaskPending
		return nil
	}

	if !p.ShouldDecompose || len(p.SubTasks) < minSubTasks {
		task.Status = core.TaskPending
		return nil
	}
	if len(p.SubTasks) > maxSubTasks {
		p.SubTasks = p.SubTasks[:maxSubTasks]
	}

	for i, spec := range p.SubTasks {
		child := core.NewTask(spec.Description, task.Context, e.maxAttempts)
		child.MergeContext(spec.Context)
		if deps := validDependencies(spec.DependsOn, i); len(deps) > 0 {
			// Recorded for audit only; scheduling stays order-based.
			child.Context["depends_on"] = deps
		}
		arena.AddChild(task, child)

		if err := e.Decompose(ctx, arena, child, depth+1); err != nil {
			return err
		}
	}

	task.Status = core.TaskPending
	e.logger.Debug("task decomposed", "task_id", task.ID, "subtasks", len(task.SubTaskIDs))
	return nil
}

// buildPrompt renders the task and its context for the planner.
func (e *Engine) buildPrompt(task *core.Task) string {
	ctxJSON, err := json.Marshal(task.Context)
	if err != nil {
		ctxJSON = []byte("{}")
	}
	return fmt.Sprintf("Task: %s\nContext: %s", task.Description, ctxJSON)
}

func (e *Engine) publish(task *core.Task) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(core.Notification{
		Kind:    core.NotifyTaskDecomposing,
		TaskID:  task.ID,
		Payload: map[string]any{"description": task.Description},
	})
}

// validDependencies keeps only indexes referencing earlier siblings.
func validDependencies(deps []int, selfIndex int) []int {
	var out []int
	for _, d := range deps {
		if d >= 0 && d < selfIndex {
			out = append(out, d)
		}
	}
	return out
}
