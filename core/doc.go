// Package core defines the shared data model of the task-execution
// engine: tasks and their decomposition tree, goals with aggregated
// progress, pre-attempt checkpoints, the append-only execution-step log
// and the notification bus that surfaces lifecycle events to external
// observers.
//
// Tasks and goals are stored arena-style: one flat table keyed by id
// with parent/child relationships expressed as id references. This
// keeps the object graph cycle-free and makes checkpoint snapshots
// trivially serializable.
package core
