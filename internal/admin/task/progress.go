// Package task runs long operations outside the request that started them.
// A task reports its progress to a persisted record keyed by a generated id;
// clients poll that record and may ask the task to stop.
package task

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task
type Status string

const (
	// StatusRunning indicates the task is being processed
	StatusRunning Status = "running"
	// StatusCompleted indicates the task finished successfully
	StatusCompleted Status = "completed"
	// StatusFailed indicates the task returned an error or panicked
	StatusFailed Status = "failed"
	// StatusStopped indicates the task honored a stop request
	StatusStopped Status = "stopped"
)

// ErrStopped is returned by task functions that noticed a stop request
var ErrStopped = errors.New("task stopped")

// ErrTaskNotFound is returned for unknown task ids
var ErrTaskNotFound = errors.New("task not found")

// Progress is the persisted state of one task. The task is its only writer,
// except for StopRequested which pollers set.
type Progress struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Name          string     `db:"name" json:"name"`
	Status        Status     `db:"status" json:"status"`
	Partial       int        `db:"partial" json:"partial"`
	Total         int        `db:"total" json:"total"`
	Message       string     `db:"message" json:"message"`
	StopRequested bool       `db:"stop_requested" json:"stop_requested"`
	Error         *string    `db:"error" json:"error,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	FinishedAt    *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// NewProgress creates the initial progress record of a running task
func NewProgress(name string) *Progress {
	now := time.Now().UTC()
	return &Progress{
		ID:        uuid.New(),
		Name:      name,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Done reports whether the task has finished
func (p *Progress) Done() bool {
	return p.Status != StatusRunning
}

// Percent returns the completed share in [0, 100]; 0 while the total is unknown
func (p *Progress) Percent() float64 {
	if p.Total <= 0 {
		return 0
	}
	pct := float64(p.Partial) * 100 / float64(p.Total)
	if pct > 100 {
		return 100
	}
	return pct
}

// Path returns the poll path of the task
func (p *Progress) Path() string {
	return "/_tasks/" + p.ID.String()
}
