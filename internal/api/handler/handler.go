package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/unique-jobs/internal/unique"
)

// JobService is the deduplicating job client used by the handlers
type JobService interface {
	MarkUnique(job *unique.Job, payload any) error
	Persist(ctx context.Context, job *unique.Job) error
	Fetch(ctx context.Context, jobID string) (*unique.Job, error)
	Remove(ctx context.Context, job *unique.Job) error
	ClearReservation(ctx context.Context, identity string) error
}

// HealthCheck reports whether a backing service is reachable
type HealthCheck func(ctx context.Context) error

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Jobs         JobService
	HealthChecks map[string]HealthCheck
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}
