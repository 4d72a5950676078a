// Package queue is the job queue behind the deduplication layer: jobs live in
// postgres and every new job id is published to RabbitMQ for the workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/unique-jobs/internal/domain"
	"github.com/google/uuid"
)

const (
	DefaultMaxRetries     = 3
	DefaultTimeoutSeconds = 300
)

// Repository is the subset of Storage the queue needs
type Repository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	UpdateJob(ctx context.Context, job *domain.Job) error
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// Publisher delivers job messages to the workers
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Queue persists jobs and announces new ones
type Queue struct {
	repo      Repository
	publisher Publisher
	logger    *slog.Logger
}

// New creates a new Queue instance
func New(repo Repository, publisher Publisher, logger *slog.Logger) *Queue {
	return &Queue{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
	}
}

// FetchJob loads a job by id
func (q *Queue) FetchJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return q.repo.GetJobByID(ctx, jobID)
}

// PersistJob creates the job when it has no id yet and publishes it;
// otherwise it updates the stored row
func (q *Queue) PersistJob(ctx context.Context, job *domain.Job) (string, error) {
	now := time.Now().UTC()

	if job.JobID != "" {
		job.UpdatedAt = now
		if err := q.repo.UpdateJob(ctx, job); err != nil {
			return "", err
		}
		return job.JobID, nil
	}

	job.JobID = uuid.New().String()
	job.Status = domain.JobStatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.MaxRetries == 0 {
		job.MaxRetries = DefaultMaxRetries
	}
	if job.TimeoutSeconds == 0 {
		job.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if err := q.repo.CreateJob(ctx, job); err != nil {
		job.JobID = ""
		return "", err
	}

	body, err := json.Marshal(domain.JobMessage{JobID: job.JobID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal job message: %w", err)
	}

	if err := q.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		// The row exists, so the id is still reported to the caller.
		q.logger.Error("Job created but not published",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return job.JobID, fmt.Errorf("failed to publish job: %w", err)
	}

	q.logger.Info("Job enqueued",
		slog.String("job_id", job.JobID),
		slog.String("job_type", job.JobType),
	)

	return job.JobID, nil
}

// DeleteJob removes the job row
func (q *Queue) DeleteJob(ctx context.Context, job *domain.Job) error {
	return q.repo.DeleteJob(ctx, job.JobID)
}
