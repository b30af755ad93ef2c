package core

import (
	"sync"
	"time"
)

// NotificationKind names a lifecycle event emitted by the engine.
type NotificationKind string

// Task and run lifecycle notifications.
const (
	NotifyLoopStarted     NotificationKind = "loop:started"
	NotifyTaskDecomposing NotificationKind = "task:decomposing"
	NotifyTaskExecuting   NotificationKind = "task:executing"
	NotifyTaskCompleted   NotificationKind = "task:completed"
	NotifyTaskRolledBack  NotificationKind = "task:rolled_back"
	NotifyLoopCompleted   NotificationKind = "loop:completed"
	NotifyLoopFailed      NotificationKind = "loop:failed"
)

// Goal lifecycle notifications.
const (
	NotifyGoalCreated   NotificationKind = "goal:created"
	NotifyGoalUpdated   NotificationKind = "goal:updated"
	NotifyGoalProgress  NotificationKind = "goal:progress"
	NotifyGoalCompleted NotificationKind = "goal:completed"
	NotifyGoalRemoved   NotificationKind = "goal:removed"
)

// Notification is a lifecycle event for external observers (a UI, a
// log shipper). Payload carries kind-specific details.
type Notification struct {
	Kind      NotificationKind `json:"kind"`
	TaskID    string           `json:"task_id,omitempty"`
	GoalID    string           `json:"goal_id,omitempty"`
	Payload   map[string]any   `json:"payload,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Bus is an explicit subscriber registry wired up at the composition
// root. Publish never blocks the engine: a subscriber whose buffer is
// full misses that notification rather than stalling execution.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Notification
}

// NewBus constructs a bus with no subscribers.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers a buffered channel receiving all future
// notifications. The channel is closed by Close.
func (b *Bus) Subscribe() <-chan Notification {
	ch := make(chan Notification, 64)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers n to every subscriber without blocking.
func (b *Bus) Publish(n Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Close closes all subscriber channels and drops them.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
