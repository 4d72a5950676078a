package unique

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/unique-jobs/internal/domain"
	"github.com/cuongbtq/unique-jobs/internal/kv"
)

// Queue is the job queue the client decorates
type Queue interface {
	FetchJob(ctx context.Context, jobID string) (*domain.Job, error)
	PersistJob(ctx context.Context, job *domain.Job) (string, error)
	DeleteJob(ctx context.Context, job *domain.Job) error
}

// Config holds client configuration
type Config struct {
	Logger  *slog.Logger
	Queue   Queue
	Store   kv.Store
	Regions Regions
	Codec   string // json or msgpack
}

// Client weaves identity reservation into the queue's fetch, persist and
// remove operations. Jobs never marked unique pass straight through.
type Client struct {
	logger     *slog.Logger
	queue      Queue
	identities *IdentityStore
	codec      Codec
}

// NewClient creates a new Client instance
func NewClient(cfg *Config) (*Client, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("key-value store is required")
	}

	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		logger:     logger,
		queue:      cfg.Queue,
		identities: NewIdentityStore(cfg.Store, cfg.Regions, logger),
		codec:      codec,
	}, nil
}

// Identities exposes the underlying identity store
func (c *Client) Identities() *IdentityStore {
	return c.identities
}

// MarkUnique attaches payload as the job's unique identity source. A job's
// payload cannot be replaced once attached.
func (c *Client) MarkUnique(job *Job, payload any) error {
	if job.unique != nil {
		return ErrReassignment
	}
	job.unique = &attachment{payload: deepCopy(payload)}
	return nil
}

// Persist saves the job. On a job's first save with a unique payload the
// identity is reserved before the queue sees the job and associated with the
// job id afterwards.
func (c *Client) Persist(ctx context.Context, job *Job) error {
	if job.JobID != "" || job.unique == nil {
		jobID, err := c.queue.PersistJob(ctx, job.Job)
		if jobID != "" {
			job.JobID = jobID
		}
		if err != nil {
			return fmt.Errorf("failed to persist job: %w", err)
		}
		return nil
	}

	identity := Canonicalize(job.unique.payload)

	data, err := c.codec.Marshal(job.unique.payload)
	if err != nil {
		return err
	}

	reserved, err := c.identities.Reserve(ctx, identity, data)
	if err != nil {
		return err
	}
	if !reserved {
		c.logger.Info("Unique job rejected - identity already reserved",
			slog.String("identity", identity),
			slog.String("job_type", job.JobType),
		)
		return &DuplicateIdentityError{Identity: identity}
	}

	jobID, err := c.queue.PersistJob(ctx, job.Job)
	if err != nil && jobID == "" {
		// orphaned reservation, cleared with ClearReservation
		job.JobID = ""
		c.logger.Warn("Persist failed after reservation - identity left reserved",
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to persist job: %w", err)
	}
	job.JobID = jobID

	// a returned id means the row exists even when err is set
	if assocErr := c.identities.Associate(ctx, jobID, identity); assocErr != nil {
		if err != nil {
			return fmt.Errorf("failed to persist job: %w", errors.Join(err, assocErr))
		}
		return assocErr
	}

	if err != nil {
		c.logger.Warn("Job stored with an error, identity associated",
			slog.String("job_id", jobID),
			slog.String("identity", identity),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to persist job: %w", err)
	}

	c.logger.Debug("Unique job persisted",
		slog.String("job_id", jobID),
		slog.String("identity", identity),
	)

	return nil
}

// Fetch loads a job and attaches its unique payload when it has one
func (c *Client) Fetch(ctx context.Context, jobID string) (*Job, error) {
	base, err := c.queue.FetchJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	job := Wrap(base)

	identity, found, err := c.identities.ResolveAssociation(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !found {
		return job, nil
	}

	data, found, err := c.identities.ResolveReservation(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !found {
		c.logger.Warn("Association without reservation",
			slog.String("job_id", jobID),
			slog.String("identity", identity),
		)
		return job, nil
	}

	payload, err := c.codec.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	job.unique = &attachment{payload: payload}

	return job, nil
}

// Remove deletes the job and then releases its identity, if any
func (c *Client) Remove(ctx context.Context, job *Job) error {
	if err := c.queue.DeleteJob(ctx, job.Job); err != nil {
		return fmt.Errorf("failed to remove job: %w", err)
	}

	identity, found, err := c.identities.ResolveAssociation(ctx, job.JobID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	if err := c.identities.Release(ctx, job.JobID, identity); err != nil {
		return err
	}

	c.logger.Debug("Unique identity released",
		slog.String("job_id", job.JobID),
		slog.String("identity", identity),
	)

	return nil
}

// ClearReservation removes an orphaned reservation so its identity can be
// reserved again
func (c *Client) ClearReservation(ctx context.Context, identity string) error {
	return c.identities.ClearReservation(ctx, identity)
}
