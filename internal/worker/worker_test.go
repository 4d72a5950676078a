package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/unique-jobs/internal/domain"
	"github.com/cuongbtq/unique-jobs/internal/kv"
	"github.com/cuongbtq/unique-jobs/internal/queue"
	"github.com/cuongbtq/unique-jobs/internal/unique"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type statusUpdate struct {
	status   string
	result   map[string]any
	errorMsg string
}

type fakeStore struct {
	mu         sync.Mutex
	jobs       map[string]*domain.Job
	claimErr   error
	updates    map[string][]statusUpdate
	heartbeats int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:    make(map[string]*domain.Job),
		updates: make(map[string][]statusUpdate),
	}
}

func (s *fakeStore) add(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.JobID] = &cp
}

func (s *fakeStore) ClaimJob(_ context.Context, jobID, workerID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimErr != nil {
		return nil, s.claimErr
	}
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}
	job.Status = domain.JobStatusRunning
	job.WorkerID = workerID
	cp := *job
	return &cp, nil
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, jobID, status string, result map[string]any, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[jobID]; ok {
		job.Status = status
		if status == domain.JobStatusPending {
			job.RetryCount++
		}
	}
	s.updates[jobID] = append(s.updates[jobID], statusUpdate{status: status, result: result, errorMsg: errorMsg})
	return nil
}

func (s *fakeStore) UpdateJobHeartbeat(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats++
	return nil
}

func (s *fakeStore) lastUpdate(jobID string) statusUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates := s.updates[jobID]
	if len(updates) == 0 {
		return statusUpdate{}
	}
	return updates[len(updates)-1]
}

func (s *fakeStore) heartbeatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heartbeats
}

type fakeConsumer struct {
	deliveries chan amqp.Delivery
	err        error
}

func (c *fakeConsumer) Consume(string, int) (<-chan amqp.Delivery, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.deliveries, nil
}

type settlement struct {
	tag     uint64
	ack     bool
	requeue bool
}

type fakeAcker struct {
	mu      sync.Mutex
	settled []settlement
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, ack: true})
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, requeue: requeue})
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcker) all() []settlement {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]settlement(nil), a.settled...)
}

type fixture struct {
	store  *fakeStore
	queue  *queue.Memory
	client *unique.Client
	redis  *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	q := queue.NewMemory()
	client, err := unique.NewClient(&unique.Config{
		Logger: discardLogger,
		Queue:  q,
		Store:  kv.NewRedis(rdb),
	})
	require.NoError(t, err)

	return &fixture{store: newFakeStore(), queue: q, client: client, redis: mr}
}

// enqueue persists a job through the unique client and mirrors it into the fake store
func (f *fixture) enqueue(t *testing.T, jobType, payload string, uniquePayload any, retryCount, maxRetries int) *unique.Job {
	t.Helper()

	job := unique.NewJob("user-1", jobType, payload)
	if uniquePayload != nil {
		require.NoError(t, f.client.MarkUnique(job, uniquePayload))
	}
	require.NoError(t, f.client.Persist(context.Background(), job))

	f.store.add(&domain.Job{
		JobID:      job.JobID,
		JobType:    jobType,
		Status:     domain.JobStatusPending,
		RetryCount: retryCount,
		MaxRetries: maxRetries,
	})
	return job
}

func (f *fixture) worker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	cfg.Logger = discardLogger
	cfg.Storage = f.store
	cfg.Jobs = f.client
	if cfg.Consumer == nil {
		cfg.Consumer = &fakeConsumer{deliveries: make(chan amqp.Delivery)}
	}
	cfg.WorkerID = "worker-test"
	w, err := NewWorker(&cfg)
	require.NoError(t, err)
	return w
}

func TestNewWorker_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing storage", cfg: Config{Jobs: &unique.Client{}, Consumer: &fakeConsumer{}}, wantErr: "job storage is required"},
		{name: "missing loader", cfg: Config{Storage: newFakeStore(), Consumer: &fakeConsumer{}}, wantErr: "job loader is required"},
		{name: "missing consumer", cfg: Config{Storage: newFakeStore(), Jobs: &unique.Client{}}, wantErr: "consumer is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWorker(&tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	w, err := NewWorker(&Config{Storage: newFakeStore(), Jobs: &unique.Client{}, Consumer: &fakeConsumer{}})
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID())
	assert.Equal(t, 1, w.concurrency)
	assert.Equal(t, defaultJobTimeout, w.jobTimeout)
	assert.Equal(t, defaultHeartbeatInterval, w.heartbeatInterval)
}

func TestShouldRequeueJob(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "already claimed", err: fmt.Errorf("job already claimed: %w", domain.ErrJobAlreadyClaimed), want: false},
		{name: "max retries", err: fmt.Errorf("%w: boom", domain.ErrMaxRetriesExceeded), want: false},
		{name: "invalid payload", err: domain.ErrInvalidPayload, want: false},
		{name: "no handler", err: fmt.Errorf("%w: x", ErrNoHandler), want: false},
		{name: "retryable", err: domain.NewRetryableError(errors.New("timeout")), want: true},
		{name: "wrapped retryable", err: fmt.Errorf("outer: %w", domain.NewRetryableError(errors.New("timeout"))), want: true},
		{name: "unknown", err: errors.New("unknown"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shouldRequeueJob(tt.err))
		})
	}
}

func TestProcessJob_RemoveOnCompleteReleasesIdentity(t *testing.T) {
	f := newFixture(t)
	job := f.enqueue(t, "report", `{"pages":1}`, map[string]any{"report": "daily"}, 0, 3)

	var seen any
	w := f.worker(t, Config{
		RemoveOnComplete: true,
		Handlers: map[string]Handler{
			"report": func(_ context.Context, j *unique.Job) (map[string]any, error) {
				seen, _ = j.UniquePayload()
				return map[string]any{"ok": true}, nil
			},
		},
	})

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: job.JobID})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"report": "daily"}, seen)
	update := f.store.lastUpdate(job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, update.status)
	assert.Equal(t, map[string]any{"ok": true}, update.result)

	assert.Equal(t, 0, f.queue.Len())
	assert.False(t, f.redis.Exists("q:unique:jobs"))
	assert.False(t, f.redis.Exists("q:unique:associations"))

	// the identity can be used again
	again := unique.NewJob("user-1", "report", "")
	require.NoError(t, f.client.MarkUnique(again, map[string]any{"report": "daily"}))
	assert.NoError(t, f.client.Persist(context.Background(), again))
}

func TestProcessJob_KeepsCompletedJobByDefault(t *testing.T) {
	f := newFixture(t)
	job := f.enqueue(t, "report", "", map[string]any{"report": "daily"}, 0, 3)

	w := f.worker(t, Config{DefaultHandler: LogHandler(discardLogger)})
	require.NoError(t, w.processJob(context.Background(), &domain.JobMessage{JobID: job.JobID}))

	assert.Equal(t, domain.JobStatusCompleted, f.store.lastUpdate(job.JobID).status)
	assert.Equal(t, 1, f.queue.Len())

	dup := unique.NewJob("user-2", "report", "")
	require.NoError(t, f.client.MarkUnique(dup, map[string]any{"report": "daily"}))
	assert.ErrorIs(t, f.client.Persist(context.Background(), dup), unique.ErrDuplicateIdentity)
}

func TestProcessJob_Failures(t *testing.T) {
	boom := errors.New("boom")
	failing := func(context.Context, *unique.Job) (map[string]any, error) { return nil, boom }

	tests := []struct {
		name        string
		jobType     string
		payload     string
		retryCount  int
		maxRetries  int
		handlers    map[string]Handler
		wantStatus  string
		wantIs      error
		wantRequeue bool
	}{
		{
			name:        "retries left",
			jobType:     "email",
			maxRetries:  3,
			handlers:    map[string]Handler{"email": failing},
			wantStatus:  domain.JobStatusPending,
			wantIs:      boom,
			wantRequeue: true,
		},
		{
			name:       "retries exhausted",
			jobType:    "email",
			retryCount: 3,
			maxRetries: 3,
			handlers:   map[string]Handler{"email": failing},
			wantStatus: domain.JobStatusFailed,
			wantIs:     domain.ErrMaxRetriesExceeded,
		},
		{
			name:       "invalid payload",
			jobType:    "email",
			payload:    `{"broken"`,
			maxRetries: 3,
			handlers:   map[string]Handler{"email": failing},
			wantStatus: domain.JobStatusFailed,
			wantIs:     domain.ErrInvalidPayload,
		},
		{
			name:       "no handler",
			jobType:    "unknown",
			maxRetries: 3,
			wantStatus: domain.JobStatusFailed,
			wantIs:     ErrNoHandler,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			job := f.enqueue(t, tt.jobType, tt.payload, "nightly", tt.retryCount, tt.maxRetries)
			w := f.worker(t, Config{Handlers: tt.handlers, RemoveOnComplete: true})

			err := w.processJob(context.Background(), &domain.JobMessage{JobID: job.JobID})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantIs)
			assert.Equal(t, tt.wantRequeue, shouldRequeueJob(err))
			assert.Equal(t, tt.wantStatus, f.store.lastUpdate(job.JobID).status)

			// failed jobs keep their identity
			assert.Equal(t, 1, f.queue.Len())
			assert.True(t, f.redis.Exists("q:unique:jobs"))
		})
	}
}

func TestProcessJob_ClaimErrors(t *testing.T) {
	t.Run("already claimed", func(t *testing.T) {
		f := newFixture(t)
		job := f.enqueue(t, "email", "", nil, 0, 3)
		called := false
		w := f.worker(t, Config{DefaultHandler: func(context.Context, *unique.Job) (map[string]any, error) {
			called = true
			return nil, nil
		}})

		require.NoError(t, w.processJob(context.Background(), &domain.JobMessage{JobID: job.JobID}))
		err := w.processJob(context.Background(), &domain.JobMessage{JobID: job.JobID})
		assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
		assert.False(t, shouldRequeueJob(err))
		assert.True(t, called)
	})

	t.Run("database error is retryable", func(t *testing.T) {
		f := newFixture(t)
		f.store.claimErr = errors.New("connection reset")
		w := f.worker(t, Config{DefaultHandler: LogHandler(discardLogger)})

		err := w.processJob(context.Background(), &domain.JobMessage{JobID: "00000000-0000-0000-0000-000000000001"})
		assert.True(t, shouldRequeueJob(err))
	})
}

func TestProcessJob_HeartbeatAndTimeout(t *testing.T) {
	f := newFixture(t)
	job := f.enqueue(t, "slow", "", nil, 0, 0)

	w := f.worker(t, Config{
		JobTimeout:        200 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
		Handlers: map[string]Handler{
			"slow": func(ctx context.Context, _ *unique.Job) (map[string]any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
	})

	err := w.processJob(context.Background(), &domain.JobMessage{JobID: job.JobID})
	assert.ErrorIs(t, err, domain.ErrMaxRetriesExceeded)
	assert.Greater(t, f.store.heartbeatCount(), 0)
	assert.Equal(t, domain.JobStatusFailed, f.store.lastUpdate(job.JobID).status)
}

func TestWorker_StartProcessesDeliveries(t *testing.T) {
	f := newFixture(t)
	job := f.enqueue(t, "report", "", map[string]any{"report": "weekly"}, 0, 3)

	deliveries := make(chan amqp.Delivery, 3)
	acker := &fakeAcker{}
	w := f.worker(t, Config{
		Consumer:         &fakeConsumer{deliveries: deliveries},
		Concurrency:      2,
		RemoveOnComplete: true,
		DefaultHandler:   LogHandler(discardLogger),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 1, Body: []byte(`not json`)}
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 2, Body: []byte(`{"job_id":"not-a-uuid"}`)}
	deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, Body: []byte(fmt.Sprintf(`{"job_id":%q}`, job.JobID))}

	require.Eventually(t, func() bool { return len(acker.all()) == 3 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	w.Stop()

	assert.ElementsMatch(t, []settlement{
		{tag: 1, requeue: false},
		{tag: 2, requeue: false},
		{tag: 3, ack: true},
	}, acker.all())
	assert.Equal(t, 0, f.queue.Len())
	assert.False(t, f.redis.Exists("q:unique:jobs"))
}

func TestWorker_StartConsumeError(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, Config{Consumer: &fakeConsumer{err: errors.New("not connected to RabbitMQ")}})

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start consuming")
}

func TestParseMessage(t *testing.T) {
	msg, err := parseMessage(amqp.Delivery{
		DeliveryTag: 7,
		Body:        []byte(`{"job_id":"7f1d3c1e-2b0a-4c55-9d0e-6a3f2f0e9b11"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "7f1d3c1e-2b0a-4c55-9d0e-6a3f2f0e9b11", msg.JobID)
	assert.Equal(t, uint64(7), msg.DeliveryTag)
}
