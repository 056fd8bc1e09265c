package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobStopped   JobStatus = "STOPPED"
)

// Terminal reports whether a job can no longer change status.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobStopped
}

// Job is the durable record of one scrape request. Progress counts leads
// the user has actually been charged for, so it is monotonically
// non-decreasing while the job is RUNNING.
type Job struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Keyword   string    `json:"keyword"`
	Location  string    `json:"location"`
	Limit     int       `json:"limit"`
	Status    JobStatus `json:"status"`
	Progress  int       `json:"progress"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
