package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cuongbtq/completion-relay/internal/completion"
	"github.com/cuongbtq/completion-relay/internal/notify"
	"github.com/cuongbtq/completion-relay/internal/queue"
)

// DefaultPollInterval is used when Config.PollInterval is not set
const DefaultPollInterval = time.Second

// StatusRecorder persists job lifecycle transitions. Failures are logged by
// the worker and never abort a job.
type StatusRecorder interface {
	MarkRunning(ctx context.Context, jobID, workerID string) error
	MarkFinished(ctx context.Context, jobID, status string, chunkCount uint64, errorMsg string) error
}

// Config holds worker configuration
type Config struct {
	Logger    *slog.Logger
	WorkerID  string
	Queue     queue.Consumer
	Executor  completion.Executor
	Publisher notify.Publisher
	Recorder  StatusRecorder // optional

	TopicPrefix     string
	PollInterval    time.Duration
	Concurrency     int           // 0 means unbounded
	JobTimeout      time.Duration // 0 means no timeout
	TerminalMarkers bool
}

// Worker polls the queue and runs every job it pops concurrently
type Worker struct {
	logger          *slog.Logger
	workerID        string
	queue           queue.Consumer
	executor        completion.Executor
	publisher       notify.Publisher
	recorder        StatusRecorder
	topicPrefix     string
	pollInterval    time.Duration
	concurrency     int
	jobTimeout      time.Duration
	terminalMarkers bool

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	w := &Worker{
		logger:          cfg.Logger,
		workerID:        cfg.WorkerID,
		queue:           cfg.Queue,
		executor:        cfg.Executor,
		publisher:       cfg.Publisher,
		recorder:        cfg.Recorder,
		topicPrefix:     cfg.TopicPrefix,
		pollInterval:    pollInterval,
		concurrency:     cfg.Concurrency,
		jobTimeout:      cfg.JobTimeout,
		terminalMarkers: cfg.TerminalMarkers,
	}

	if cfg.Concurrency > 0 {
		w.sem = semaphore.NewWeighted(int64(cfg.Concurrency))
	}

	return w
}

// Start runs the dispatch loop until ctx is canceled. Queue errors are never
// fatal; Start only returns once ctx is done.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	w.dispatchLoop(ctx)

	w.logger.Info("Worker context canceled, dispatch loop stopped",
		slog.String("worker_id", w.workerID),
	)
	return nil
}

// Stop waits for in-flight jobs to finish. Cancel the context passed to
// Start first so that no new jobs are popped.
func (w *Worker) Stop() {
	w.logger.Info("Waiting for in-flight jobs to finish...")
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
