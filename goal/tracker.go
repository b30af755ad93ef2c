// Package goal implements the hierarchical goal tracker: goals mirror
// tasks (or task trees), aggregate progress bottom-up and evaluate
// success criteria against run results.
package goal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// Tracker stores goals arena-style in one flat table keyed by id and
// keeps the progress/completion invariants: a goal with subgoals always
// carries the rounded mean of their progress and completes exactly when
// every subgoal has completed, cascading upward. It is safe for
// concurrent use.
type Tracker struct {
	mu     sync.Mutex
	goals  map[string]*core.Goal
	bus    *core.Bus
	logger logging.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBus sets the notification bus goal lifecycle events are
// published to.
func WithBus(bus *core.Bus) Option {
	return func(t *Tracker) { t.bus = bus }
}

// WithLogger sets the tracker's logger.
func WithLogger(logger logging.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker constructs an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		goals:  make(map[string]*core.Goal),
		logger: logging.NoOpLogger{},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// CreateGoal registers a new goal. A non-empty parentID links it as a
// subgoal; the parent's progress is re-aggregated immediately.
func (t *Tracker) CreateGoal(description string, criteria []string, parentID string) (*core.Goal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g := core.NewGoal(description, criteria)
	if parentID != "" {
		parent, ok := t.goals[parentID]
		if !ok {
			return nil, fmt.Errorf("parent goal %s not found", parentID)
		}
		g.ParentID = parentID
		parent.SubGoalIDs = append(parent.SubGoalIDs, g.ID)
	}
	t.goals[g.ID] = g

	t.publish(core.NotifyGoalCreated, g)
	if g.ParentID != "" {
		t.propagateLocked(g.ParentID)
	}
	return t.snapshotLocked(g), nil
}

// Get returns a snapshot of the goal, or nil if unknown.
func (t *Tracker) Get(id string) *core.Goal {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.goals[id]
	if !ok {
		return nil
	}
	return t.snapshotLocked(g)
}

// UpdateGoal sets the goal's status. Completion sets progress to 100
// and the completed timestamp, then cascades to ancestors.
func (t *Tracker) UpdateGoal(id string, status core.GoalStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.goals[id]
	if !ok {
		return fmt.Errorf("goal %s not found", id)
	}
	g.Status = status
	g.Updated = time.Now().UTC()
	if status == core.GoalCompleted {
		g.Progress = 100
		g.Completed = g.Updated
		t.publish(core.NotifyGoalCompleted, g)
	} else {
		t.publish(core.NotifyGoalUpdated, g)
	}
	t.propagateLocked(g.ParentID)
	return nil
}

// SetProgress sets a goal's progress in [0,100] and re-aggregates every
// ancestor. For goals with subgoals progress is derived, not settable.
func (t *Tracker) SetProgress(id string, progress int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.goals[id]
	if !ok {
		return fmt.Errorf("goal %s not found", id)
	}
	if g.HasSubGoals() {
		return fmt.Errorf("goal %s derives progress from subgoals", id)
	}
	if progress < 0 || progress > 100 {
		return fmt.Errorf("progress must be in [0,100], got %d", progress)
	}

	g.Progress = progress
	g.Updated = time.Now().UTC()
	if g.Status == core.GoalPending && progress > 0 {
		g.Status = core.GoalInProgress
	}
	t.publish(core.NotifyGoalProgress, g)
	t.propagateLocked(g.ParentID)
	return nil
}

// AddCheckpoint appends a milestone to the goal and returns its id.
func (t *Tracker) AddCheckpoint(goalID, description string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.goals[goalID]
	if !ok {
		return "", fmt.Errorf("goal %s not found", goalID)
	}
	cp := core.GoalCheckpoint{ID: core.NewID(), Description: description}
	g.Checkpoints = append(g.Checkpoints, cp)
	g.Updated = time.Now().UTC()
	return cp.ID, nil
}

// ReachCheckpoint marks a checkpoint reached. For leaf goals progress
// is re-derived as reached/total checkpoints, then propagated.
func (t *Tracker) ReachCheckpoint(goalID, checkpointID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.goals[goalID]
	if !ok {
		return fmt.Errorf("goal %s not found", goalID)
	}
	found := false
	reached := 0
	for i := range g.Checkpoints {
		if g.Checkpoints[i].ID == checkpointID {
			g.Checkpoints[i].Reached = true
			g.Checkpoints[i].ReachedAt = time.Now().UTC()
			found = true
		}
		if g.Checkpoints[i].Reached {
			reached++
		}
	}
	if !found {
		return fmt.Errorf("checkpoint %s not found on goal %s", checkpointID, goalID)
	}

	if !g.HasSubGoals() && len(g.Checkpoints) > 0 {
		g.Progress = int(math.Round(float64(reached) / float64(len(g.Checkpoints)) * 100))
		if g.Status == core.GoalPending && g.Progress > 0 {
			g.Status = core.GoalInProgress
		}
	}
	g.Updated = time.Now().UTC()
	t.publish(core.NotifyGoalProgress, g)
	t.propagateLocked(g.ParentID)
	return nil
}

// RemoveGoal deletes a goal and detaches it from its parent. Subgoals
// of the removed goal are removed recursively.
func (t *Tracker) RemoveGoal(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	g, ok := t.goals[id]
	if !ok {
		return fmt.Errorf("goal %s not found", id)
	}
	t.removeLocked(g)
	if g.ParentID != "" {
		if parent, ok := t.goals[g.ParentID]; ok {
			parent.SubGoalIDs = removeID(parent.SubGoalIDs, id)
			t.propagateLocked(parent.ID)
		}
	}
	return nil
}

func (t *Tracker) removeLocked(g *core.Goal) {
	for _, subID := range g.SubGoalIDs {
		if sub, ok := t.goals[subID]; ok {
			t.removeLocked(sub)
		}
	}
	delete(t.goals, g.ID)
	t.publish(core.NotifyGoalRemoved, g)
}

// propagateLocked re-aggregates progress up the ancestor chain starting
// at id, promoting goals to completed when all subgoals completed.
func (t *Tracker) propagateLocked(id string) {
	for id != "" {
		g, ok := t.goals[id]
		if !ok || !g.HasSubGoals() {
			return
		}

		sum := 0
		count := 0
		allCompleted := true
		for _, subID := range g.SubGoalIDs {
			sub, ok := t.goals[subID]
			if !ok {
				continue
			}
			sum += sub.Progress
			count++
			if sub.Status != core.GoalCompleted {
				allCompleted = false
			}
		}
		if count == 0 {
			return
		}

		g.Progress = int(math.Round(float64(sum) / float64(count)))
		g.Updated = time.Now().UTC()

		if allCompleted && g.Status != core.GoalCompleted {
			g.Status = core.GoalCompleted
			g.Completed = g.Updated
			t.publish(core.NotifyGoalCompleted, g)
		} else if !allCompleted && g.Status == core.GoalPending && g.Progress > 0 {
			g.Status = core.GoalInProgress
			t.publish(core.NotifyGoalProgress, g)
		} else {
			t.publish(core.NotifyGoalProgress, g)
		}

		id = g.ParentID
	}
}

// snapshotLocked returns a defensive copy so callers cannot bypass the
// tracker's invariants.
func (t *Tracker) snapshotLocked(g *core.Goal) *core.Goal {
	cp := *g
	cp.SuccessCriteria = append([]string(nil), g.SuccessCriteria...)
	cp.SubGoalIDs = append([]string(nil), g.SubGoalIDs...)
	cp.Checkpoints = append([]core.GoalCheckpoint(nil), g.Checkpoints...)
	cp.Metadata = make(map[string]string, len(g.Metadata))
	for k, v := range g.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

func (t *Tracker) publish(kind core.NotificationKind, g *core.Goal) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(core.Notification{
		Kind:   kind,
		GoalID: g.ID,
		Payload: map[string]any{
			"status":   string(g.Status),
			"progress": g.Progress,
		},
	})
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
