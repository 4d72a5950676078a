package domain

import "time"

// Job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCanceled  = "CANCELED"
)

// Job is a row of the jobs table as owned by the job queue
type Job struct {
	JobID          string    `db:"job_id"`
	UserID         string    `db:"user_id"`
	JobType        string    `db:"job_type"`
	Payload        string    `db:"payload"` // JSON string
	Status         string    `db:"status"`
	WorkerID       string    `db:"worker_id"`
	RetryCount     int       `db:"retry_count"`
	MaxRetries     int       `db:"max_retries"`
	TimeoutSeconds int       `db:"timeout_seconds"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// JobMessage is the body published to RabbitMQ for every new job
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}
