// Package safety implements the pre-flight gate run before any
// decomposition or execution: a policy-engine check combined with a
// mode/approval gate, including the bounded human-approval wait.
package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/metrics"
)

// ActionCheck describes the action submitted to the policy engine and
// mode gate.
type ActionCheck struct {
	Agent   string         `json:"agent"`
	Action  string         `json:"action"`
	Content string         `json:"content,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// PolicyViolation names a violated policy rule.
type PolicyViolation struct {
	PolicyName string `json:"policy_name"`
}

// PolicyResult is the policy engine's verdict.
type PolicyResult struct {
	Passed            bool              `json:"passed"`
	Violations        []PolicyViolation `json:"violations,omitempty"`
	RequiredApprovals []string          `json:"required_approvals,omitempty"`
}

// PolicyEngine evaluates actions against externally defined rules.
type PolicyEngine interface {
	CheckAction(ctx context.Context, check ActionCheck) (PolicyResult, error)
}

// PolicyEngineFunc adapts a plain function to the PolicyEngine
// interface.
type PolicyEngineFunc func(ctx context.Context, check ActionCheck) (PolicyResult, error)

// CheckAction implements PolicyEngine.
func (f PolicyEngineFunc) CheckAction(ctx context.Context, check ActionCheck) (PolicyResult, error) {
	return f(ctx, check)
}

// ModeDecision is the mode gate's verdict.
type ModeDecision struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason,omitempty"`
}

// ApprovalRequest asks a human for sign-off on an action.
type ApprovalRequest struct {
	Agent       string         `json:"agent"`
	Action      string         `json:"action"`
	Description string         `json:"description"`
	Risk        string         `json:"risk"`
	Context     map[string]any `json:"context,omitempty"`
	Timeout     time.Duration  `json:"timeout"`
}

// ApprovalResult carries the human decision.
type ApprovalResult struct {
	Approved bool `json:"approved"`
}

// ModeGate checks the current operating mode and mediates human
// approval requests.
type ModeGate interface {
	CheckAction(ctx context.Context, check ActionCheck) (ModeDecision, error)
	RequestApproval(ctx context.Context, req ApprovalRequest) (ApprovalResult, error)
}

// Decision is the combined gate outcome returned to the engine.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	RequiresApproval bool   `json:"requires_approval"`
	Reason           string `json:"reason,omitempty"`
}

// Gate combines the policy engine and mode gate. Denial by either
// source is fatal and non-retryable; an approval requirement from
// either triggers a bounded human-approval wait.
type Gate struct {
	policy  PolicyEngine
	mode    ModeGate
	sink    metrics.Sink
	logger  logging.Logger
	agent   string
	timeout time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithApprovalTimeout overrides the default 5 minute approval wait.
func WithApprovalTimeout(d time.Duration) Option {
	return func(g *Gate) { g.timeout = d }
}

// WithMetrics sets the sink safety events are recorded to.
func WithMetrics(sink metrics.Sink) Option {
	return func(g *Gate) { g.sink = sink }
}

// WithLogger sets the gate's logger.
func WithLogger(logger logging.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithAgentName sets the agent identifier used in checks and approval
// requests.
func WithAgentName(name string) Option {
	return func(g *Gate) { g.agent = name }
}

// NewGate constructs a gate over the given policy engine and mode gate.
func NewGate(policy PolicyEngine, mode ModeGate, opts ...Option) *Gate {
	g := &Gate{
		policy:  policy,
		mode:    mode,
		sink:    metrics.NoOpSink{},
		logger:  logging.NoOpLogger{},
		agent:   "taskmesh",
		timeout: 5 * time.Minute,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Check runs the combined pre-flight check for a task description.
// A Decision with Allowed=false means the run must end immediately
// without decomposing or executing.
func (g *Gate) Check(ctx context.Context, description string, taskContext map[string]any) (Decision, error) {
	check := ActionCheck{
		Agent:   g.agent,
		Action:  "execute_task",
		Content: description,
		Context: taskContext,
	}

	policyRes, err := g.policy.CheckAction(ctx, check)
	if err != nil {
		return Decision{}, fmt.Errorf("policy check: %w", err)
	}
	if !policyRes.Passed {
		reason := "policy violation"
		if len(policyRes.Violations) > 0 {
			reason = fmt.Sprintf("policy violation: %s", policyRes.Violations[0].PolicyName)
		}
		g.sink.RecordSafetyEvent("policy_denied", map[string]any{"reason": reason, "task": description})
		g.logger.Warn("safety gate denied by policy", "reason", reason)
		return Decision{Allowed: false, Reason: reason}, nil
	}

	modeRes, err := g.mode.CheckAction(ctx, check)
	if err != nil {
		return Decision{}, fmt.Errorf("mode check: %w", err)
	}
	if !modeRes.Allowed {
		reason := modeRes.Reason
		if reason == "" {
			reason = "blocked by mode gate"
		}
		g.sink.RecordSafetyEvent("mode_denied", map[string]any{"reason": reason, "task": description})
		g.logger.Warn("safety gate denied by mode gate", "reason", reason)
		return Decision{Allowed: false, Reason: reason}, nil
	}

	needsApproval := modeRes.RequiresApproval || len(policyRes.RequiredApprovals) > 0
	if !needsApproval {
		g.sink.RecordSafetyEvent("allowed", map[string]any{"task": description})
		return Decision{Allowed: true}, nil
	}

	approved, err := g.awaitApproval(ctx, description, taskContext)
	if err != nil {
		return Decision{}, err
	}
	if !approved {
		g.sink.RecordSafetyEvent("approval_denied", map[string]any{"task": description})
		return Decision{Allowed: false, RequiresApproval: true, Reason: "approval denied"}, nil
	}

	g.sink.RecordSafetyEvent("approved", map[string]any{"task": description})
	return Decision{Allowed: true, RequiresApproval: true}, nil
}

// awaitApproval performs the bounded human-approval wait. A timeout is
// treated as denial, not as a retryable error.
func (g *Gate) awaitApproval(ctx context.Context, description string, taskContext map[string]any) (bool, error) {
	approvalCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.mode.RequestApproval(approvalCtx, ApprovalRequest{
		Agent:       g.agent,
		Action:      "execute_task",
		Description: description,
		Risk:        "medium",
		Context:     taskContext,
		Timeout:     g.timeout,
	})
	if err != nil {
		if approvalCtx.Err() != nil && ctx.Err() == nil {
			g.logger.Warn("approval request timed out", "task", description)
			return false, nil
		}
		return false, fmt.Errorf("approval request: %w", err)
	}
	return res.Approved, nil
}

// AllowAllPolicy is a PolicyEngine that passes every action. It is the
// façade default so library users without a policy backend still get
// the gate wiring.
type AllowAllPolicy struct{}

// CheckAction implements PolicyEngine.
func (AllowAllPolicy) CheckAction(context.Context, ActionCheck) (PolicyResult, error) {
	return PolicyResult{Passed: true}, nil
}

// AllowAllMode is a ModeGate that allows every action without approval.
type AllowAllMode struct{}

// CheckAction implements ModeGate.
func (AllowAllMode) CheckAction(context.Context, ActionCheck) (ModeDecision, error) {
	return ModeDecision{Allowed: true}, nil
}

// RequestApproval implements ModeGate.
func (AllowAllMode) RequestApproval(context.Context, ApprovalRequest) (ApprovalResult, error) {
	return ApprovalResult{Approved: true}, nil
}
