package executor

import "errors"

// Sentinel errors of the execution loop. They are wrapped with task
// context when propagated; match with errors.Is.
var (
	// ErrLowConfidence marks a candidate result whose self-reported
	// confidence fell below the configured threshold. Retryable.
	ErrLowConfidence = errors.New("candidate confidence below threshold")

	// ErrMaxAttempts marks a leaf task that exhausted its retry budget.
	// Fatal for that branch of the tree.
	ErrMaxAttempts = errors.New("max attempts exceeded")

	// ErrForcedRollback marks a reflection verdict that demanded
	// rollback. It converts the run into a failure that triggers the
	// whole-run rollback safety net when enabled.
	ErrForcedRollback = errors.New("reflection requested rollback")
)
