package models

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobDead      JobStatus = "dead" // retries exhausted or non-retryable
)

// Job is one unit of queued work. Jobs are durable: they survive restarts
// and dead-lettered ones are retained for inspection.
type Job struct {
	ID          int64           `json:"id" db:"id"`
	Queue       string          `json:"queue" db:"queue"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	Status      JobStatus       `json:"status" db:"status"`
	Attempts    int             `json:"attempts" db:"attempts"`
	MaxAttempts int             `json:"max_attempts" db:"max_attempts"`
	RunAt       time.Time       `json:"run_at" db:"run_at"`
	LastError   string          `json:"last_error" db:"last_error"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// QueueStat is an aggregate view of one queue for the operator surface.
type QueueStat struct {
	Queue     string `json:"queue" db:"queue"`
	Pending   int    `json:"pending" db:"pending"`
	Running   int    `json:"running" db:"running"`
	Completed int    `json:"completed" db:"completed"`
	Dead      int    `json:"dead" db:"dead"`
}
