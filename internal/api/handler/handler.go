package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/completion-relay/internal/api/model"
	"github.com/cuongbtq/completion-relay/internal/api/storage"
	"github.com/cuongbtq/completion-relay/internal/notify"
	"github.com/cuongbtq/completion-relay/internal/queue"
)

// Ledger is the job ledger as seen by the HTTP handlers
type Ledger interface {
	CreateJob(ctx context.Context, record *model.JobRecord) error
	GetJobByID(ctx context.Context, jobID string) (*model.JobRecord, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]model.JobRecord, error)
	MarkFailed(ctx context.Context, jobID, errorMsg string) error
}

// Dependencies holds all dependencies needed by handlers.
// Ledger and Subscriber are optional; the endpoints that need them answer
// 501 when they are nil.
type Dependencies struct {
	Logger       *slog.Logger
	Queue        queue.Producer
	Ledger       Ledger
	Subscriber   notify.Subscriber
	TopicPrefix  string
	HealthChecks map[string]func(ctx context.Context) error
}

// JobHandler handles completion and job HTTP requests
type JobHandler struct {
	logger      *slog.Logger
	queue       queue.Producer
	ledger      Ledger
	subscriber  notify.Subscriber
	topicPrefix string
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:      deps.Logger,
		queue:       deps.Queue,
		ledger:      deps.Ledger,
		subscriber:  deps.Subscriber,
		topicPrefix: deps.TopicPrefix,
	}
}
