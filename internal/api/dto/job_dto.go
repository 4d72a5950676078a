package dto

import "encoding/json"

type CreateJobRequest struct {
	UserID  string          `json:"user_id" binding:"required"`
	JobType string          `json:"job_type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
	// Unique marks the job for deduplication when present
	Unique any `json:"unique,omitempty"`
}

type ClearReservationRequest struct {
	Identity string `json:"identity" binding:"required"`
}

type JobDTO struct {
	JobID      string `json:"job_id"`
	UserID     string `json:"user_id"`
	JobType    string `json:"job_type"`
	Payload    string `json:"payload"`
	Status     string `json:"status"`
	RetryCount int    `json:"retry_count"`
	Unique     any    `json:"unique,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type ErrorResponse struct {
	Error    string `json:"error"`
	Identity string `json:"identity,omitempty"`
}
