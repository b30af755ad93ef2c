package core

import "sync"

// TaskArena stores every task of a run in a flat table keyed by id.
// Parent/child relationships are id references resolved through the
// arena, never embedded object pointers. It is safe for concurrent
// access so parallel child execution can read sibling metadata.
type TaskArena struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewTaskArena constructs an empty arena.
func NewTaskArena() *TaskArena {
	return &TaskArena{tasks: make(map[string]*Task)}
}

// Add stores a task. Adding an id twice overwrites the prior entry.
func (a *TaskArena) Add(t *Task) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks[t.ID] = t
}

// Get returns the task for id, or nil if unknown.
func (a *TaskArena) Get(id string) *Task {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tasks[id]
}

// AddChild stores child and appends its id to parent's ordered subtask
// list, setting the back reference.
func (a *TaskArena) AddChild(parent, child *Task) {
	a.mu.Lock()
	defer a.mu.Unlock()
	child.ParentID = parent.ID
	parent.SubTaskIDs = append(parent.SubTaskIDs, child.ID)
	a.tasks[child.ID] = child
}

// Children resolves the ordered subtasks of t. Unknown ids are skipped.
func (a *TaskArena) Children(t *Task) []*Task {
	a.mu.RLock()
	defer a.mu.RUnlock()
	children := make([]*Task, 0, len(t.SubTaskIDs))
	for _, id := range t.SubTaskIDs {
		if c, ok := a.tasks[id]; ok {
			children = append(children, c)
		}
	}
	return children
}

// Depth returns the number of parent hops from t to its root.
func (a *TaskArena) Depth(t *Task) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	depth := 0
	for t != nil && t.ParentID != "" {
		t = a.tasks[t.ParentID]
		depth++
	}
	return depth
}

// MaxTreeDepth returns the deepest path length below t (0 for a leaf).
func (a *TaskArena) MaxTreeDepth(t *Task) int {
	max := 0
	for _, c := range a.Children(t) {
		if d := a.MaxTreeDepth(c) + 1; d > max {
			max = d
		}
	}
	return max
}

// Len returns the number of stored tasks.
func (a *TaskArena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tasks)
}
