package executor

import (
	"context"
	"testing"

	"github.com/hupe1980/taskmesh/config"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/metrics"
	"github.com/hupe1980/taskmesh/model"
	"github.com/hupe1980/taskmesh/safety"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// denyPolicy rejects every action with a named violation.
type denyPolicy struct{}

func (denyPolicy) CheckAction(context.Context, safety.ActionCheck) (safety.PolicyResult, error) {
	return safety.PolicyResult{
		Passed:     false,
		Violations: []safety.PolicyViolation{{PolicyName: "no-destructive-actions"}},
	}, nil
}

func declineDecomposition(provider *model.MockProvider) {
	provider.AddResponse("Task:", `{"should_decompose": false}`)
}

func acceptReflection(provider *model.MockProvider) {
	provider.AddResponse("Candidate result", `{"is_successful": true, "should_retry": false, "should_rollback": false}`)
}

func TestExecuteTask_Success(t *testing.T) {
	provider := model.NewMockProvider()
	acceptReflection(provider)
	provider.AddResponse("Approach:", `{"result": "added error handling throughout", "confidence": 0.92}`)
	declineDecomposition(provider)

	sink := metrics.NewInMemorySink()
	e := New(provider, config.DefaultConfig, WithMetrics(sink))

	res := e.ExecuteTask(context.Background(), "harden the handler", nil,
		WithSuccessCriteria("include error handling"))

	require.True(t, res.Success)
	assert.Equal(t, "added error handling throughout", res.Result)
	require.NotNil(t, res.Evaluation)
	assert.True(t, res.Evaluation.Success)

	root := e.Arena().Get(res.TaskID)
	require.NotNil(t, root)
	assert.Equal(t, core.TaskCompleted, root.Status)
	assert.Equal(t, 1, root.AttemptCount)

	g := e.Tracker().Get(res.GoalID)
	require.NotNil(t, g)
	assert.Equal(t, core.GoalCompleted, g.Status)
	assert.Equal(t, 100, g.Progress)

	require.Len(t, e.Steps().All(), 1)
	assert.True(t, e.Steps().All()[0].Success)
	assert.NotEmpty(t, sink.Calibrations())
}

func TestExecuteTask_LowConfidenceExhaustsAttempts(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("Approach:", `{"result": "meh", "confidence": 0.5}`)
	provider.AddResponse("Failure:", `{"context_corrections": {}, "revised_approach": ""}`)
	declineDecomposition(provider)

	cfg := config.DefaultConfig
	cfg.EnableRollback = false
	e := New(provider, cfg)

	res := e.ExecuteTask(context.Background(), "guess the answer", nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, ErrMaxAttempts.Error())

	root := e.Arena().Get(res.TaskID)
	require.NotNil(t, root)
	assert.Equal(t, core.TaskFailed, root.Status)
	assert.Equal(t, 3, root.AttemptCount)
	assert.Len(t, root.Attempts, 3)

	steps := e.Steps().All()
	require.Len(t, steps, 3)
	for _, s := range steps {
		assert.False(t, s.Success)
	}

	g := e.Tracker().Get(res.GoalID)
	require.NotNil(t, g)
	assert.Equal(t, core.GoalFailed, g.Status)
}

func TestExecuteTask_SafetyBlocked(t *testing.T) {
	provider := model.NewMockProvider()
	gate := safety.NewGate(denyPolicy{}, safety.AllowAllMode{})
	e := New(provider, config.DefaultConfig, WithGate(gate))

	res := e.ExecuteTask(context.Background(), "rm -rf the datacenter", nil)

	require.False(t, res.Success)
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Reason, "no-destructive-actions")
	assert.Empty(t, res.TaskID)

	// Nothing was decomposed, executed or recorded.
	assert.Empty(t, provider.Calls())
	assert.Zero(t, e.Steps().Len())
	assert.Zero(t, e.Arena().Len())

	g := e.Tracker().Get(res.GoalID)
	require.NotNil(t, g)
	assert.Equal(t, core.GoalFailed, g.Status)
}

func TestExecuteTask_ReflectionForcesRollback(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("Candidate result", `{"is_successful": false, "should_retry": false, "should_rollback": true}`)
	provider.AddResponse("Approach:", `{"result": "wrote files", "confidence": 0.9}`)
	declineDecomposition(provider)

	e := New(provider, config.DefaultConfig)

	taskContext := map[string]any{"workdir": "/tmp/run"}
	res := e.ExecuteTask(context.Background(), "generate the report", taskContext)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, ErrForcedRollback.Error())

	root := e.Arena().Get(res.TaskID)
	require.NotNil(t, root)
	assert.Equal(t, core.TaskRolledBack, root.Status)
	assert.Nil(t, root.Result)
	assert.Empty(t, root.Error)
	// Context restored to the pre-attempt checkpoint.
	assert.Equal(t, map[string]any{"workdir": "/tmp/run"}, root.Context)
}

func TestExecuteTask_ReflectionRetryWithModifiedApproach(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("Candidate result: draft v1",
		`{"is_successful": false, "should_retry": true, "should_rollback": false, "modified_approach": "use plan B"}`)
	acceptReflection(provider)
	provider.AddResponse("plan B", `{"result": "final v2", "confidence": 0.95}`)
	provider.AddResponse("Approach:", `{"result": "draft v1", "confidence": 0.9}`)
	declineDecomposition(provider)

	e := New(provider, config.DefaultConfig)

	res := e.ExecuteTask(context.Background(), "write report", nil)

	require.True(t, res.Success)
	assert.Equal(t, "final v2", res.Result)

	root := e.Arena().Get(res.TaskID)
	require.NotNil(t, root)
	assert.Equal(t, 2, root.AttemptCount)
	require.Len(t, root.Attempts, 2)
	assert.Equal(t, "write report", root.Attempts[0].Approach)
	assert.Equal(t, "use plan B", root.Attempts[1].Approach)
	// The description itself is never rewritten mid-retry.
	assert.Equal(t, "write report", root.Description)
}

func TestExecuteTask_SelfCorrectionMergesContext(t *testing.T) {
	provider := model.NewMockProvider()
	acceptReflection(provider)
	provider.AddResponse("Failure:", `{"context_corrections": {"region": "eu"}, "revised_approach": "retry with region"}`)
	provider.AddResponse("retry with region", `{"result": "ok", "confidence": 0.9}`)
	provider.AddResponse("Approach:", `{"result": "eh", "confidence": 0.2}`)
	declineDecomposition(provider)

	e := New(provider, config.DefaultConfig)

	res := e.ExecuteTask(context.Background(), "fetch data", nil)

	require.True(t, res.Success)
	assert.Equal(t, "ok", res.Result)

	root := e.Arena().Get(res.TaskID)
	require.NotNil(t, root)
	assert.Equal(t, core.TaskCompleted, root.Status)
	assert.Equal(t, "eu", root.Context["region"])
	assert.Equal(t, 2, root.AttemptCount)
}

func TestExecuteTask_SequentialAbortsOnFirstFailure(t *testing.T) {
	provider := model.NewMockProvider()
	acceptReflection(provider)
	provider.AddResponse("alpha\nApproach", `{"result": "alpha done", "confidence": 0.9}`)
	provider.AddResponse("beta\nApproach", `{"result": "weak", "confidence": 0.1}`)
	provider.AddResponse("gamma\nApproach", `{"result": "gamma done", "confidence": 0.9}`)
	provider.AddResponse("Failure:", `{}`)
	provider.AddResponse("Task: build pipeline", `{"should_decompose": true, "subtasks": [`+
		`{"description": "alpha"}, {"description": "beta"}, {"description": "gamma"}`+
		`]}`)
	declineDecomposition(provider)

	cfg := config.DefaultConfig
	cfg.MaxAttempts = 1
	cfg.EnableRollback = false
	e := New(provider, cfg)

	res := e.ExecuteTask(context.Background(), "build pipeline", nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "sequential execution failed")

	root := e.Arena().Get(res.TaskID)
	require.NotNil(t, root)
	children := e.Arena().Children(root)
	require.Len(t, children, 3)
	assert.Equal(t, core.TaskCompleted, children[0].Status)
	assert.Equal(t, core.TaskFailed, children[1].Status)
	// gamma never ran.
	assert.Equal(t, core.TaskPending, children[2].Status)
	assert.Zero(t, children[2].AttemptCount)

	// One step for alpha, one failed step for beta, none for gamma.
	require.Len(t, e.Steps().All(), 2)
}

func TestExecuteTask_ParallelComposesOrderedResults(t *testing.T) {
	provider := model.NewMockProvider()
	acceptReflection(provider)
	provider.AddResponse("alpha\nApproach", `{"result": "alpha done", "confidence": 0.9}`)
	provider.AddResponse("beta\nApproach", `{"result": "beta done", "confidence": 0.9}`)
	provider.AddResponse("gamma\nApproach", `{"result": "gamma done", "confidence": 0.9}`)
	provider.AddResponse("Task: build pipeline", `{"should_decompose": true, "subtasks": [`+
		`{"description": "alpha"}, {"description": "beta"}, {"description": "gamma"}`+
		`]}`)
	declineDecomposition(provider)

	cfg := config.DefaultConfig
	cfg.Parallel = true
	e := New(provider, cfg)

	res := e.ExecuteTask(context.Background(), "build pipeline", nil)

	require.True(t, res.Success)
	assert.Equal(t, []any{"alpha done", "beta done", "gamma done"}, res.Result)

	root := e.Arena().Get(res.TaskID)
	assert.Equal(t, core.TaskCompleted, root.Status)
}

func TestExecuteTask_ParallelWaitsForAllChildren(t *testing.T) {
	provider := model.NewMockProvider()
	acceptReflection(provider)
	provider.AddResponse("alpha\nApproach", `{"result": "alpha done", "confidence": 0.9}`)
	provider.AddResponse("beta\nApproach", `{"result": "weak", "confidence": 0.1}`)
	provider.AddResponse("Failure:", `{}`)
	provider.AddResponse("Task: build pipeline", `{"should_decompose": true, "subtasks": [`+
		`{"description": "alpha"}, {"description": "beta"}`+
		`]}`)
	declineDecomposition(provider)

	cfg := config.DefaultConfig
	cfg.Parallel = true
	cfg.MaxAttempts = 1
	cfg.EnableRollback = false
	e := New(provider, cfg)

	res := e.ExecuteTask(context.Background(), "build pipeline", nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "parallel execution failed")

	// The healthy sibling still ran to completion before the error surfaced.
	root := e.Arena().Get(res.TaskID)
	children := e.Arena().Children(root)
	require.Len(t, children, 2)
	assert.Equal(t, core.TaskCompleted, children[0].Status)
	assert.Equal(t, core.TaskFailed, children[1].Status)
}

func TestExecuteTask_PublishesLifecycleNotifications(t *testing.T) {
	provider := model.NewMockProvider()
	acceptReflection(provider)
	provider.AddResponse("Approach:", `{"result": "done", "confidence": 0.9}`)
	declineDecomposition(provider)

	e := New(provider, config.DefaultConfig)
	ch := e.Bus().Subscribe()

	res := e.ExecuteTask(context.Background(), "notify me", nil)
	require.True(t, res.Success)

	kinds := map[core.NotificationKind]bool{}
	for {
		select {
		case n := <-ch:
			kinds[n.Kind] = true
		default:
			assert.True(t, kinds[core.NotifyLoopStarted])
			assert.True(t, kinds[core.NotifyTaskExecuting])
			assert.True(t, kinds[core.NotifyTaskCompleted])
			assert.True(t, kinds[core.NotifyLoopCompleted])
			return
		}
	}
}

func TestExecuteTask_UnparseableExecutionReplyIsLowConfidence(t *testing.T) {
	provider := model.NewMockProvider()
	provider.AddResponse("Approach:", "I did the thing, trust me.")
	provider.AddResponse("Failure:", `{"context_corrections": {}, "revised_approach": ""}`)
	declineDecomposition(provider)

	cfg := config.DefaultConfig
	cfg.MaxAttempts = 1
	cfg.EnableRollback = false
	e := New(provider, cfg)

	res := e.ExecuteTask(context.Background(), "do the thing", nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, ErrLowConfidence.Error())
}
