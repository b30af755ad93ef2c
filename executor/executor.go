// Package executor drives tasks from a high-level description to a
// terminal outcome: safety gating, recursive decomposition, the
// attempt/evaluate/retry/self-correct execution loop, checkpointing
// with whole-run rollback and goal-progress tracking.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/config"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/decompose"
	"github.com/hupe1980/taskmesh/goal"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/metrics"
	"github.com/hupe1980/taskmesh/model"
	"github.com/hupe1980/taskmesh/safety"
)

// RunResult is the structured outcome of a full run. Callers never see
// a raw error from ExecuteTask; failures are folded into this value.
type RunResult struct {
	Success    bool             `json:"success"`
	Result     any              `json:"result,omitempty"`
	Blocked    bool             `json:"blocked,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Error      string           `json:"error,omitempty"`
	TaskID     string           `json:"task_id,omitempty"`
	GoalID     string           `json:"goal_id,omitempty"`
	Evaluation *goal.Evaluation `json:"evaluation,omitempty"`
}

// Executor owns one run's collaborators, all injected at the
// composition root.
type Executor struct {
	provider   model.Provider
	gate       *safety.Gate
	decomposer *decompose.Engine
	tracker    *goal.Tracker
	arena      *core.TaskArena
	ckpts      *CheckpointManager
	steps      *core.StepLog
	bus        *core.Bus
	sink       metrics.Sink
	logger     logging.Logger
	cfg        config.Config
}

// Option configures an Executor.
type Option func(*Executor)

// WithGate sets the safety gate. Defaults to an allow-all gate.
func WithGate(g *safety.Gate) Option {
	return func(e *Executor) { e.gate = g }
}

// WithTracker sets the goal tracker.
func WithTracker(t *goal.Tracker) Option {
	return func(e *Executor) { e.tracker = t }
}

// WithArena sets the task arena.
func WithArena(a *core.TaskArena) Option {
	return func(e *Executor) { e.arena = a }
}

// WithStepLog sets the shared execution-step log.
func WithStepLog(l *core.StepLog) Option {
	return func(e *Executor) { e.steps = l }
}

// WithBus sets the notification bus.
func WithBus(b *core.Bus) Option {
	return func(e *Executor) { e.bus = b }
}

// WithMetrics sets the metrics sink.
func WithMetrics(s metrics.Sink) Option {
	return func(e *Executor) { e.sink = s }
}

// WithLogger sets the executor's logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// New constructs an executor around a reasoning provider. Unset
// collaborators fall back to in-memory / no-op defaults so a bare
// New(provider, cfg) is fully functional.
func New(provider model.Provider, cfg config.Config, opts ...Option) *Executor {
	e := &Executor{
		provider: provider,
		sink:     metrics.NoOpSink{},
		logger:   logging.NoOpLogger{},
		cfg:      cfg,
	}
	for _, o := range opts {
		o(e)
	}
	if e.bus == nil {
		e.bus = core.NewBus()
	}
	if e.arena == nil {
		e.arena = core.NewTaskArena()
	}
	if e.steps == nil {
		e.steps = core.NewStepLog()
	}
	if e.ckpts == nil {
		e.ckpts = NewCheckpointManager(e.bus)
	}
	if e.tracker == nil {
		e.tracker = goal.NewTracker(goal.WithBus(e.bus))
	}
	if e.gate == nil {
		e.gate = safety.NewGate(safety.AllowAllPolicy{}, safety.AllowAllMode{},
			safety.WithMetrics(e.sink), safety.WithLogger(e.logger))
	}
	if e.decomposer == nil {
		e.decomposer = decompose.New(provider, cfg.MaxDepth, cfg.MaxAttempts,
			decompose.WithBus(e.bus), decompose.WithLogger(e.logger))
	}
	return e
}

// Bus returns the notification bus for subscription at the composition
// root.
func (e *Executor) Bus() *core.Bus { return e.bus }

// Steps returns the append-only execution log.
func (e *Executor) Steps() *core.StepLog { return e.steps }

// Arena returns the task arena for post-hoc inspection.
func (e *Executor) Arena() *core.TaskArena { return e.arena }

// Checkpoints returns the checkpoint manager.
func (e *Executor) Checkpoints() *CheckpointManager { return e.ckpts }

// Tracker returns the goal tracker.
func (e *Executor) Tracker() *goal.Tracker { return e.tracker }

// RunOption customizes a single ExecuteTask run.
type RunOption func(*runOptions)

type runOptions struct {
	successCriteria []string
}

// WithSuccessCriteria attaches success-criteria strings to the run's
// goal; they are evaluated against the final result.
func WithSuccessCriteria(criteria ...string) RunOption {
	return func(o *runOptions) { o.successCriteria = append(o.successCriteria, criteria...) }
}

// ExecuteTask drives a task description to a terminal outcome:
// safety gate, goal creation, decomposition, tree execution, goal
// evaluation and metrics. All propagated errors are caught here; the
// caller always receives a structured RunResult.
func (e *Executor) ExecuteTask(ctx context.Context, description string, taskContext map[string]any, opts ...RunOption) *RunResult {
	var ro runOptions
	for _, o := range opts {
		o(&ro)
	}

	g, err := e.tracker.CreateGoal(description, ro.successCriteria, "")
	if err != nil {
		return &RunResult{Success: false, Error: err.Error()}
	}

	decision, err := e.gate.Check(ctx, description, taskContext)
	if err != nil {
		e.failGoal(g.ID)
		return &RunResult{Success: false, Error: err.Error(), GoalID: g.ID}
	}
	if !decision.Allowed {
		e.failGoal(g.ID)
		return &RunResult{Success: false, Blocked: true, Reason: decision.Reason, GoalID: g.ID}
	}

	root := core.NewTask(description, taskContext, e.cfg.MaxAttempts)
	root.StartedAt = time.Now().UTC()
	e.arena.Add(root)

	e.bus.Publish(core.Notification{Kind: core.NotifyLoopStarted, TaskID: root.ID, GoalID: g.ID})
	e.tracker.UpdateGoal(g.ID, core.GoalInProgress)

	if err := e.decomposer.Decompose(ctx, e.arena, root, 0); err != nil {
		return e.finishFailed(root, g.ID, err)
	}

	result, err := e.execute(ctx, root)
	if err != nil {
		return e.finishFailed(root, g.ID, err)
	}

	eval, evalErr := e.tracker.EvaluateGoal(g.ID, result)
	if evalErr == nil && !eval.Success {
		e.logger.Warn("run completed but success criteria unmet", "goal_id", g.ID)
	}
	e.tracker.SetProgress(g.ID, 100)
	e.tracker.UpdateGoal(g.ID, core.GoalCompleted)

	e.sink.RecordProductivity("run_completed", 1, map[string]any{"task_id": root.ID})
	e.bus.Publish(core.Notification{Kind: core.NotifyLoopCompleted, TaskID: root.ID, GoalID: g.ID})

	res := &RunResult{Success: true, Result: result, TaskID: root.ID, GoalID: g.ID}
	if evalErr == nil && len(eval.CriteriaResults) > 0 {
		res.Evaluation = &eval
	}
	return res
}

// finishFailed performs the failure path shared by decomposition and
// execution errors: optional whole-run rollback, goal failure, metrics
// and the structured failure result.
func (e *Executor) finishFailed(root *core.Task, goalID string, cause error) *RunResult {
	if e.cfg.EnableRollback {
		if err := e.ckpts.Rollback(e.arena, root); err != nil {
			e.logger.Error("rollback failed", "task_id", root.ID, "err", err)
		}
	} else if !root.Status.Terminal() {
		root.Status = core.TaskFailed
		root.Error = cause.Error()
	}
	root.CompletedAt = time.Now().UTC()

	e.failGoal(goalID)
	e.sink.RecordProductivity("run_failed", 0, map[string]any{"task_id": root.ID, "error": cause.Error()})
	e.bus.Publish(core.Notification{
		Kind:    core.NotifyLoopFailed,
		TaskID:  root.ID,
		GoalID:  goalID,
		Payload: map[string]any{"error": cause.Error()},
	})
	e.logger.Error("run failed", "task_id", root.ID, "err", cause)

	return &RunResult{Success: false, Error: cause.Error(), TaskID: root.ID, GoalID: goalID}
}

func (e *Executor) failGoal(goalID string) {
	if err := e.tracker.UpdateGoal(goalID, core.GoalFailed); err != nil {
		e.logger.Warn("failed to update goal", "goal_id", goalID, "err", err)
	}
}

// execute walks the task tree. Composite tasks compose their children's
// results; leaf tasks run the retry state machine.
func (e *Executor) execute(ctx context.Context, task *core.Task) (any, error) {
	children := e.arena.Children(task)
	if len(children) == 0 {
		return e.executeLeaf(ctx, task)
	}
	return e.executeComposite(ctx, task, children)
}

// executeComposite drives children by the configured strategy and
// completes the parent once all children finished. The parent result is
// the list of child results in declaration order.
func (e *Executor) executeComposite(ctx context.Context, task *core.Task, children []*core.Task) (any, error) {
	task.Status = core.TaskExecuting
	task.StartedAt = time.Now().UTC()
	e.bus.Publish(core.Notification{Kind: core.NotifyTaskExecuting, TaskID: task.ID})

	results := make([]any, len(children))
	var err error
	if e.cfg.Parallel {
		err = e.runParallel(ctx, children, results)
	} else {
		err = e.runSequential(ctx, children, results)
	}
	if err != nil {
		task.Status = core.TaskFailed
		task.Error = err.Error()
		task.CompletedAt = time.Now().UTC()
		return nil, err
	}

	task.Result = results
	task.Status = core.TaskCompleted
	task.CompletedAt = time.Now().UTC()
	e.bus.Publish(core.Notification{Kind: core.NotifyTaskCompleted, TaskID: task.ID})
	return results, nil
}

// runSequential executes children one at a time in declaration order;
// the first failure aborts the remaining siblings.
func (e *Executor) runSequential(ctx context.Context, children []*core.Task, results []any) error {
	for i, child := range children {
		r, err := e.execute(ctx, child)
		if err != nil {
			return fmt.Errorf("sequential execution failed at task %s: %w", child.ID, err)
		}
		results[i] = r
	}
	return nil
}

// runParallel executes all children concurrently and waits for every
// started child to finish before surfacing the first error. Children
// share no mutable state; each owns its own context copy made at
// creation time.
func (e *Executor) runParallel(ctx context.Context, children []*core.Task, results []any) error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(children))

	for i, child := range children {
		wg.Add(1)
		go func(i int, c *core.Task) {
			defer wg.Done()
			r, err := e.execute(ctx, c)
			if err != nil {
				errCh <- fmt.Errorf("parallel execution failed for task %s: %w", c.ID, err)
				return
			}
			results[i] = r
		}(i, child)
	}

	wg.Wait()
	close(errCh)

	if len(errCh) > 0 {
		return <-errCh
	}
	return nil
}
