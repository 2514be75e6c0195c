// Package task defines the Task data model and its state machine.
package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is one of the task lifecycle states. Succeeded, Failed, and
// Interrupted are terminal: once reached, a task is never mutated again.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDispatched  Status = "dispatched"
	StatusRunning     Status = "running"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Terminal reports whether s is one of the task lifecycle's terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusInterrupted:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDispatched, StatusRunning, StatusSucceeded, StatusFailed, StatusInterrupted:
		return true
	default:
		return false
	}
}

// Task is a unit of deferred work. The core treats Def as an opaque blob;
// only the external business-logic collaborator interprets it.
type Task struct {
	ID          uuid.UUID
	Def         json.RawMessage
	WorkerID    uuid.NullUUID
	Status      Status
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ScheduledAt *time.Time
}

// DueNow reports whether the task's ScheduledAt is unset or not in the
// future relative to now — i.e. it is eligible for immediate dispatch.
func (t *Task) DueNow(now time.Time) bool {
	return t.ScheduledAt == nil || !t.ScheduledAt.After(now)
}

// Worker is the supervisor's durable record of a worker process.
type Worker struct {
	ID          uuid.UUID
	LastHeardAt time.Time
}
