package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cuongbtq/unique-jobs/internal/domain"
	"github.com/google/uuid"
)

// Memory is an in-process job queue used for local runs and tests. It keeps
// copies of jobs so callers cannot mutate stored state.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

// NewMemory creates an empty in-memory queue
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]domain.Job)}
}

// FetchJob returns a copy of the stored job
func (m *Memory) FetchJob(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return &job, nil
}

// PersistJob inserts a job without an id and updates one that has an id
func (m *Memory) PersistJob(_ context.Context, job *domain.Job) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if job.JobID == "" {
		job.JobID = uuid.New().String()
		job.CreatedAt = now
		if job.Status == "" {
			job.Status = domain.JobStatusPending
		}
	} else if _, ok := m.jobs[job.JobID]; !ok {
		return "", domain.ErrJobNotFound
	}
	job.UpdatedAt = now

	m.jobs[job.JobID] = *job
	return job.JobID, nil
}

// DeleteJob removes the job
func (m *Memory) DeleteJob(_ context.Context, job *domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.JobID]; !ok {
		return domain.ErrJobNotFound
	}
	delete(m.jobs, job.JobID)
	return nil
}

// Len returns the number of stored jobs
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}
