package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/unique-jobs/internal/domain"
	"github.com/cuongbtq/unique-jobs/internal/unique"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultJobTimeout        = 5 * time.Minute
	defaultHeartbeatInterval = 30 * time.Second
)

// JobStore is the slice of the job table the worker writes to
type JobStore interface {
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	UpdateJobStatus(ctx context.Context, jobID, status string, result map[string]any, errorMsg string) error
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
}

// JobLoader loads jobs together with their unique payload and removes them
// once they are done. *unique.Client satisfies it.
type JobLoader interface {
	Fetch(ctx context.Context, jobID string) (*unique.Job, error)
	Remove(ctx context.Context, job *unique.Job) error
}

// Consumer delivers job messages. *rabbitmq.Client satisfies it.
type Consumer interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
}

// Handler executes one job and returns the result stored on the job row
type Handler func(ctx context.Context, job *unique.Job) (map[string]any, error)

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Storage           JobStore
	Jobs              JobLoader
	Consumer          Consumer
	WorkerID          string
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	// RemoveOnComplete deletes finished jobs, which frees their unique identity
	RemoveOnComplete bool
	// Handlers maps job_type to its handler, DefaultHandler runs everything else
	Handlers       map[string]Handler
	DefaultHandler Handler
}

// Worker represents the background job worker
type Worker struct {
	logger            *slog.Logger
	storage           JobStore
	jobs              JobLoader
	consumer          Consumer
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	removeOnComplete  bool
	handlers          map[string]Handler
	defaultHandler    Handler

	jobsChan chan *task
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}
}

// task is a parsed message plus the handle used to settle it
type task struct {
	msg   *domain.JobMessage
	acker amqp.Acknowledger
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("job storage is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job loader is required")
	}
	if cfg.Consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = defaultWorkerID()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	handlers := make(map[string]Handler, len(cfg.Handlers))
	for jobType, h := range cfg.Handlers {
		handlers[jobType] = h
	}

	return &Worker{
		logger:            logger.With(slog.String("worker_id", workerID)),
		storage:           cfg.Storage,
		jobs:              cfg.Jobs,
		consumer:          cfg.Consumer,
		workerID:          workerID,
		concurrency:       concurrency,
		prefetchCount:     prefetch,
		jobTimeout:        jobTimeout,
		heartbeatInterval: heartbeat,
		removeOnComplete:  cfg.RemoveOnComplete,
		handlers:          handlers,
		defaultHandler:    cfg.DefaultHandler,
		jobsChan:          make(chan *task, concurrency),
		stopChan:          make(chan struct{}),
	}, nil
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// ID returns the identifier written to claimed jobs
func (w *Worker) ID() string {
	return w.workerID
}

// Start subscribes to the job queue and processes jobs until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Bool("remove_on_complete", w.removeOnComplete),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, deliveries)
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("Worker context canceled, stopping...")
	case <-w.stopChan:
	}

	return nil
}

// Stop signals every goroutine to exit and waits for in-flight jobs
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
