package core

import "time"

// GoalStatus tracks a goal through its lifecycle.
type GoalStatus string

const (
	// GoalPending indicates the goal has been created but not started.
	GoalPending GoalStatus = "pending"
	// GoalInProgress indicates work toward the goal is under way.
	GoalInProgress GoalStatus = "in_progress"
	// GoalCompleted is the terminal success state.
	GoalCompleted GoalStatus = "completed"
	// GoalFailed is the terminal failure state.
	GoalFailed GoalStatus = "failed"
	// GoalBlocked indicates the goal cannot proceed (e.g. safety denial).
	GoalBlocked GoalStatus = "blocked"
	// GoalCancelled indicates the goal was abandoned by the caller.
	GoalCancelled GoalStatus = "cancelled"
)

// GoalPriority orders goals by importance.
type GoalPriority string

const (
	// PriorityLow marks background goals.
	PriorityLow GoalPriority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium GoalPriority = "medium"
	// PriorityHigh marks goals that should preempt others.
	PriorityHigh GoalPriority = "high"
)

// GoalCheckpoint is a named milestone toward a goal.
type GoalCheckpoint struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Reached     bool      `json:"reached"`
	ReachedAt   time.Time `json:"reached_at,omitempty"`
}

// Goal is a success-tracking entity mirroring a task (or task tree).
// Progress is an integer in [0,100]. A goal with subgoals derives its
// progress as the rounded mean of the direct subgoals' progress and
// completes exactly when every subgoal has completed.
type Goal struct {
	ID              string            `json:"id"`
	Description     string            `json:"description"`
	SuccessCriteria []string          `json:"success_criteria,omitempty"`
	Status          GoalStatus        `json:"status"`
	Priority        GoalPriority      `json:"priority"`
	Progress        int               `json:"progress"`
	ParentID        string            `json:"parent_id,omitempty"`
	SubGoalIDs      []string          `json:"sub_goal_ids,omitempty"`
	Checkpoints     []GoalCheckpoint  `json:"checkpoints,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Created         time.Time         `json:"created"`
	Updated         time.Time         `json:"updated"`
	Completed       time.Time         `json:"completed,omitempty"`
}

// NewGoal creates a pending goal with medium priority.
func NewGoal(description string, criteria []string) *Goal {
	now := time.Now().UTC()
	return &Goal{
		ID:              NewID(),
		Description:     description,
		SuccessCriteria: append([]string(nil), criteria...),
		Status:          GoalPending,
		Priority:        PriorityMedium,
		Metadata:        map[string]string{},
		Created:         now,
		Updated:         now,
	}
}

// HasSubGoals reports whether the goal aggregates subgoals.
func (g *Goal) HasSubGoals() bool { return len(g.SubGoalIDs) > 0 }

// Terminal reports whether the goal reached an end state.
func (g *Goal) Terminal() bool {
	return g.Status == GoalCompleted || g.Status == GoalFailed || g.Status == GoalCancelled
}
