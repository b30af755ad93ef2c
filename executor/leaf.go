package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/jsonx"
	"github.com/hupe1980/taskmesh/metrics"
)

const executeSystemPrompt = `You are a task executor. Carry out the given task and report the outcome.

Respond with ONLY a fenced JSON block:
` + "```json" + `
{"result": <the outcome of the task, any JSON value>, "confidence": <your confidence in the result, 0.0 to 1.0>}
` + "```"

const reflectSystemPrompt = `You are a result reviewer. Judge whether the candidate result actually accomplishes the task, using the recent execution steps as context.

Respond with ONLY a fenced JSON block:
` + "```json" + `
{
  "is_successful": true,
  "issues": [],
  "suggestions": [],
  "should_retry": false,
  "should_rollback": false,
  "modified_approach": ""
}
` + "```" + `
Set should_rollback only when the attempt caused state that must be undone. Provide modified_approach only when should_retry is true and a different approach is warranted.`

const correctSystemPrompt = `You are a failure analyst. An execution attempt failed; propose corrections before the next attempt.

Respond with ONLY a fenced JSON block:
` + "```json" + `
{"context_corrections": {}, "revised_approach": ""}
` + "```" + `
context_corrections holds key/value pairs merged into the task context. revised_approach, when non-empty, replaces the approach for the next attempt.`

// candidate is the decoded outcome of one execution attempt.
type candidate struct {
	Result     any     `json:"result"`
	Confidence float64 `json:"confidence"`
}

// reflection is the decoded post-attempt review verdict.
type reflection struct {
	IsSuccessful     bool     `json:"is_successful"`
	Issues           []string `json:"issues,omitempty"`
	Suggestions      []string `json:"suggestions,omitempty"`
	ShouldRetry      bool     `json:"should_retry"`
	ShouldRollback   bool     `json:"should_rollback"`
	ModifiedApproach string   `json:"modified_approach,omitempty"`
}

// correction is the decoded self-correction proposal.
type correction struct {
	ContextCorrections map[string]any `json:"context_corrections,omitempty"`
	RevisedApproach    string         `json:"revised_approach,omitempty"`
}

// reflectionStepWindow bounds how much history feeds a reflection.
const reflectionStepWindow = 5

// executeLeaf runs the bounded retry state machine for a leaf task:
// checkpoint, attempt, record, reflect, and on failure self-correct
// before the next attempt. Exhausting MaxAttempts fails the task and
// propagates; a rollback verdict from reflection propagates as
// ErrForcedRollback.
func (e *Executor) executeLeaf(ctx context.Context, task *core.Task) (any, error) {
	if task.StartedAt.IsZero() {
		task.StartedAt = time.Now().UTC()
	}
	approach := task.Description

	for task.AttemptCount < task.MaxAttempts {
		if err := e.ckpts.Checkpoint(task); err != nil {
			return nil, err
		}
		attempt := task.BeginAttempt(approach)
		task.Status = core.TaskExecuting
		e.bus.Publish(core.Notification{
			Kind:    core.NotifyTaskExecuting,
			TaskID:  task.ID,
			Payload: map[string]any{"attempt": attempt.Number},
		})

		cand, attemptErr := e.attempt(ctx, task, approach, attempt.Number)
		attempt.EndedAt = time.Now().UTC()

		if attemptErr == nil {
			accepted, retryApproach, err := e.evaluateCandidate(ctx, task, cand)
			if err != nil {
				return nil, err
			}
			if accepted {
				task.Result = cand.Result
				task.Status = core.TaskCompleted
				task.CompletedAt = time.Now().UTC()
				e.bus.Publish(core.Notification{Kind: core.NotifyTaskCompleted, TaskID: task.ID})
				return cand.Result, nil
			}
			// Reflection asked for a retry; it still consumes the budget.
			if retryApproach != "" {
				approach = retryApproach
			}
			if task.AttemptCount >= task.MaxAttempts {
				return nil, e.exhausted(task, fmt.Errorf("reflection rejected result"))
			}
			continue
		}

		e.logger.Warn("attempt failed", "task_id", task.ID, "attempt", attempt.Number, "err", attemptErr)
		if task.AttemptCount >= task.MaxAttempts {
			return nil, e.exhausted(task, attemptErr)
		}

		task.Status = core.TaskCorrecting
		if revised := e.selfCorrect(ctx, task, attemptErr); revised != "" {
			approach = revised
		}
	}

	return nil, e.exhausted(task, fmt.Errorf("no attempts possible"))
}

// exhausted marks the task failed and wraps the cause with
// ErrMaxAttempts for the ancestor to handle.
func (e *Executor) exhausted(task *core.Task, cause error) error {
	task.Status = core.TaskFailed
	task.Error = cause.Error()
	task.CompletedAt = time.Now().UTC()
	return fmt.Errorf("task %s: %w: %w", task.ID, ErrMaxAttempts, cause)
}

// attempt performs one provider call and records the execution step.
// Low confidence and malformed payloads are retryable failures, not
// silent passes.
func (e *Executor) attempt(ctx context.Context, task *core.Task, approach string, number int) (candidate, error) {
	reply, err := e.provider.Chat(ctx, []core.Message{
		core.NewMessage(core.RoleSystem, executeSystemPrompt),
		core.NewMessage(core.RoleUser, e.buildExecutePrompt(task, approach)),
	})
	if err != nil {
		e.recordStep(task, approach, number, "", false)
		return candidate{}, fmt.Errorf("execution provider call: %w", err)
	}

	var cand candidate
	if decodeErr := jsonx.Decode(reply, &cand); decodeErr != nil {
		// Fail-safe default: keep the raw text as the result but give it
		// zero confidence so it cannot pass silently.
		cand = candidate{Result: reply, Confidence: 0}
	}

	e.sink.RecordCalibration(metrics.Calibration{
		Predicted: cand.Confidence,
		Actual:    cand.Confidence >= e.cfg.ConfidenceThreshold,
		Task:      task.Description,
	})

	if cand.Confidence < e.cfg.ConfidenceThreshold {
		actual := fmt.Sprintf("confidence %.2f below threshold %.2f", cand.Confidence, e.cfg.ConfidenceThreshold)
		e.recordStep(task, approach, number, actual, false)
		return candidate{}, fmt.Errorf("%w: %.2f < %.2f", ErrLowConfidence, cand.Confidence, e.cfg.ConfidenceThreshold)
	}

	e.recordStep(task, approach, number, stringifyResult(cand.Result), true)
	return cand, nil
}

// evaluateCandidate runs the optional reflection step. It returns
// accepted=true when the result stands, or accepted=false with an
// optional revised approach when a retry was requested. A rollback
// verdict is returned as an error.
func (e *Executor) evaluateCandidate(ctx context.Context, task *core.Task, cand candidate) (accepted bool, retryApproach string, err error) {
	if !e.cfg.EnableReflection {
		return true, "", nil
	}

	task.Status = core.TaskReflecting
	refl := e.reflect(ctx, task, cand)

	if refl.ShouldRollback {
		task.Error = ErrForcedRollback.Error()
		return false, "", fmt.Errorf("task %s: %w", task.ID, ErrForcedRollback)
	}
	if refl.ShouldRetry && !refl.IsSuccessful {
		e.logger.Debug("reflection requested retry", "task_id", task.ID, "issues", refl.Issues)
		return false, refl.ModifiedApproach, nil
	}
	return true, "", nil
}

// reflect asks the provider to judge the candidate against the last
// few execution steps. An unparseable verdict defaults to accepting
// the candidate.
func (e *Executor) reflect(ctx context.Context, task *core.Task, cand candidate) reflection {
	prompt := e.buildReflectPrompt(task, cand)
	reply, err := e.provider.Chat(ctx, []core.Message{
		core.NewMessage(core.RoleSystem, reflectSystemPrompt),
		core.NewMessage(core.RoleUser, prompt),
	})
	if err != nil {
		e.logger.Warn("reflection provider call failed, accepting candidate", "task_id", task.ID, "err", err)
		return reflection{IsSuccessful: true}
	}

	var refl reflection
	if decodeErr := jsonx.Decode(reply, &refl); decodeErr != nil {
		// Fail-safe default: accept rather than loop on unreadable verdicts.
		e.logger.Warn("reflection reply unparseable, accepting candidate", "task_id", task.ID, "err", decodeErr)
		return reflection{IsSuccessful: true}
	}
	return refl
}

// selfCorrect asks the provider for context corrections after a failed
// attempt, merges them into the task context and returns the revised
// approach (empty when none proposed).
func (e *Executor) selfCorrect(ctx context.Context, task *core.Task, cause error) string {
	reply, err := e.provider.Chat(ctx, []core.Message{
		core.NewMessage(core.RoleSystem, correctSystemPrompt),
		core.NewMessage(core.RoleUser, e.buildCorrectPrompt(task, cause)),
	})
	if err != nil {
		e.logger.Warn("self-correction provider call failed", "task_id", task.ID, "err", err)
		return ""
	}

	var corr correction
	if decodeErr := jsonx.Decode(reply, &corr); decodeErr != nil {
		e.logger.Warn("self-correction reply unparseable", "task_id", task.ID, "err", decodeErr)
		return ""
	}
	if len(corr.ContextCorrections) > 0 {
		task.MergeContext(corr.ContextCorrections)
	}
	return corr.RevisedApproach
}

func (e *Executor) recordStep(task *core.Task, approach string, number int, actual string, success bool) {
	e.steps.Append(core.ExecutionStep{
		TaskID:   task.ID,
		Action:   approach,
		Params:   map[string]any{"attempt": number},
		Expected: task.Description,
		Actual:   core.Truncate(actual, e.cfg.StepLogTruncate),
		Success:  success,
	})
}

func (e *Executor) buildExecutePrompt(task *core.Task, approach string) string {
	ctxJSON, err := json.Marshal(task.Context)
	if err != nil {
		ctxJSON = []byte("{}")
	}
	return fmt.Sprintf("Task: %s\nApproach: %s\nContext: %s", task.Description, approach, ctxJSON)
}

func (e *Executor) buildReflectPrompt(task *core.Task, cand candidate) string {
	history, err := json.Marshal(e.steps.Tail(reflectionStepWindow))
	if err != nil {
		history = []byte("[]")
	}
	return fmt.Sprintf("Task: %s\nCandidate result: %s\nConfidence: %.2f\nRecent steps: %s",
		task.Description, stringifyResult(cand.Result), cand.Confidence, history)
}

func (e *Executor) buildCorrectPrompt(task *core.Task, cause error) string {
	ctxJSON, err := json.Marshal(task.Context)
	if err != nil {
		ctxJSON = []byte("{}")
	}
	return fmt.Sprintf("Task: %s\nFailure: %v\nContext: %s", task.Description, cause, ctxJSON)
}

func stringifyResult(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if raw, err := json.Marshal(v); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", v)
}
