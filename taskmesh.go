// Package taskmesh provides a high-level façade over the task-execution
// engine: a recursive decomposition planner, a retry/reflection
// execution loop, checkpoint/rollback management and hierarchical
// goal-progress tracking. Most applications interact with this package
// by:
//  1. Creating a TaskMesh via New() with a reasoning provider
//  2. Optionally subscribing to lifecycle notifications
//  3. Running task descriptions via Run()
//
// The façade wires every collaborator explicitly at construction time
// (no ambient globals); defaults are safe for local development and
// testing, production deployments typically supply a real policy
// engine, mode gate, metrics sink and structured logger.
package taskmesh

import (
	"context"

	"github.com/hupe1980/taskmesh/config"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/executor"
	"github.com/hupe1980/taskmesh/goal"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/metrics"
	"github.com/hupe1980/taskmesh/model"
	"github.com/hupe1980/taskmesh/safety"
)

// Options configures the TaskMesh instance.
type Options struct {
	// Config holds the engine tuning parameters (recursion/retry
	// bounds, confidence threshold, feature switches). Defaults to
	// config.DefaultConfig.
	Config config.Config

	// PolicyEngine evaluates actions pre-flight. Defaults to allow-all.
	PolicyEngine safety.PolicyEngine

	// ModeGate checks the operating mode and mediates human approval.
	// Defaults to allow-all without approval.
	ModeGate safety.ModeGate

	// Metrics receives outcome recordings. Defaults to a no-op sink.
	Metrics metrics.Sink

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// TaskMesh is the composition root aggregating the executor and its
// collaborators.
type TaskMesh struct {
	opts config.Config
	exec *executor.Executor
	bus  *core.Bus
}

// New creates a TaskMesh around a reasoning provider with optional
// overrides. Any unset collaborator falls back to a safe in-memory or
// no-op default.
func New(provider model.Provider, optFns ...func(o *Options)) *TaskMesh {
	opts := Options{
		Config:       config.DefaultConfig,
		PolicyEngine: safety.AllowAllPolicy{},
		ModeGate:     safety.AllowAllMode{},
		Metrics:      metrics.NoOpSink{},
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	bus := core.NewBus()
	gate := safety.NewGate(opts.PolicyEngine, opts.ModeGate,
		safety.WithApprovalTimeout(opts.Config.ApprovalTimeout),
		safety.WithMetrics(opts.Metrics),
		safety.WithLogger(opts.Logger),
	)
	exec := executor.New(provider, opts.Config,
		executor.WithGate(gate),
		executor.WithBus(bus),
		executor.WithMetrics(opts.Metrics),
		executor.WithLogger(opts.Logger),
	)

	return &TaskMesh{opts: opts.Config, exec: exec, bus: bus}
}

// WithSuccessCriteria attaches success-criteria strings to a run's
// goal. Re-exported from executor for façade users.
func WithSuccessCriteria(criteria ...string) executor.RunOption {
	return executor.WithSuccessCriteria(criteria...)
}

// Run drives a task description to a terminal outcome. It never
// returns a raw error for a full run; failures are folded into the
// structured RunResult.
func (tm *TaskMesh) Run(ctx context.Context, description string, taskContext map[string]any, opts ...executor.RunOption) *executor.RunResult {
	return tm.exec.ExecuteTask(ctx, description, taskContext, opts...)
}

// Subscribe registers a lifecycle-notification channel for external
// observers (a UI, a log shipper).
func (tm *TaskMesh) Subscribe() <-chan core.Notification { return tm.bus.Subscribe() }

// Steps exposes the append-only execution log for post-hoc audit.
func (tm *TaskMesh) Steps() []core.ExecutionStep { return tm.exec.Steps().All() }

// Goals exposes the goal tracker.
func (tm *TaskMesh) Goals() *goal.Tracker { return tm.exec.Tracker() }

// Close shuts down the notification bus, closing all subscriber
// channels.
func (tm *TaskMesh) Close() { tm.bus.Close() }
