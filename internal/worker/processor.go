package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/unique-jobs/internal/domain"
	"github.com/cuongbtq/unique-jobs/internal/unique"
)

// ErrNoHandler is returned when no handler is registered for a job type
var ErrNoHandler = errors.New("no handler registered for job type")

// processJob claims, loads, runs and settles a single job
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	logger := w.logger.With(slog.String("job_id", msg.JobID))

	claimed, err := w.storage.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			logger.Warn("Job already claimed, skipping")
			return fmt.Errorf("job already claimed: %w", err)
		}
		return domain.NewRetryableError(fmt.Errorf("failed to claim job: %w", err))
	}

	// loaded through the unique client so handlers see the unique payload
	job, err := w.jobs.Fetch(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			logger.Warn("Job disappeared after claim")
			return err
		}
		return w.fail(ctx, logger, claimed, fmt.Errorf("failed to load job: %w", err))
	}

	if job.Payload != "" && !json.Valid([]byte(job.Payload)) {
		logger.Error("Job payload is not valid JSON")
		w.updateStatus(ctx, logger, claimed.JobID, domain.JobStatusFailed, nil, "invalid payload JSON")
		return domain.ErrInvalidPayload
	}

	handler := w.handlerFor(job.JobType)
	if handler == nil {
		w.updateStatus(ctx, logger, claimed.JobID, domain.JobStatusFailed, nil, ErrNoHandler.Error())
		return fmt.Errorf("%w: %s", ErrNoHandler, job.JobType)
	}

	timeout := w.jobTimeout
	if claimed.TimeoutSeconds > 0 {
		timeout = time.Duration(claimed.TimeoutSeconds) * time.Second
	}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, claimed.JobID, heartbeatDone)

	result, err := handler(jobCtx, job)
	close(heartbeatDone)

	if err != nil {
		return w.fail(ctx, logger, claimed, err)
	}

	w.updateStatus(ctx, logger, claimed.JobID, domain.JobStatusCompleted, result, "")
	logger.Info("Job completed",
		slog.String("job_type", job.JobType),
		slog.Bool("unique", job.IsUnique()),
	)

	if w.removeOnComplete {
		if err := w.jobs.Remove(ctx, job); err != nil {
			// the job already finished, the row and identity are cleaned up manually
			logger.Error("Failed to remove completed job", slog.String("error", err.Error()))
		}
	}

	return nil
}

// fail records a failed run, putting the job back to PENDING while it has retries left
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, claimed *domain.Job, cause error) error {
	if claimed.RetryCount < claimed.MaxRetries {
		logger.Warn("Job failed, will be retried",
			slog.String("error", cause.Error()),
			slog.Int("retry_count", claimed.RetryCount),
			slog.Int("max_retries", claimed.MaxRetries),
		)
		w.updateStatus(ctx, logger, claimed.JobID, domain.JobStatusPending, nil, cause.Error())
		return domain.NewRetryableError(fmt.Errorf("job execution failed: %w", cause))
	}

	logger.Error("Job exceeded max retries",
		slog.String("error", cause.Error()),
		slog.Int("retry_count", claimed.RetryCount),
		slog.Int("max_retries", claimed.MaxRetries),
	)
	w.updateStatus(ctx, logger, claimed.JobID, domain.JobStatusFailed, nil, cause.Error())
	return fmt.Errorf("%w: %v", domain.ErrMaxRetriesExceeded, cause)
}

func (w *Worker) updateStatus(ctx context.Context, logger *slog.Logger, jobID, status string, result map[string]any, errorMsg string) {
	if err := w.storage.UpdateJobStatus(ctx, jobID, status, result, errorMsg); err != nil {
		logger.Error("Failed to update job status",
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) handlerFor(jobType string) Handler {
	if h, ok := w.handlers[jobType]; ok {
		return h
	}
	return w.defaultHandler
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.storage.UpdateJobHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// LogHandler returns a handler that only logs the job, used when no real
// executor is registered for a job type
func LogHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, job *unique.Job) (map[string]any, error) {
		attrs := []any{
			slog.String("job_id", job.JobID),
			slog.String("job_type", job.JobType),
		}
		if payload, ok := job.UniquePayload(); ok {
			attrs = append(attrs, slog.Any("unique", payload))
		}
		logger.InfoContext(ctx, "Executing job", attrs...)

		return map[string]any{
			"status":  "success",
			"message": fmt.Sprintf("Job %s of type %s completed", job.JobID, job.JobType),
		}, nil
	}
}
