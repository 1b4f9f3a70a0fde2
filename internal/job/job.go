package job

import (
	"github.com/google/uuid"
)

// Job status constants
const (
	StatusQueued    = "QUEUED"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Terminal marker kinds carried by ChunkMessage.Kind. Ordinary chunks leave Kind empty.
const (
	KindDone   = "done"
	KindFailed = "failed"
)

// PromptMessage is one role/content pair handed to the completion backend unchanged
type PromptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// QueuedJob is the payload stored in the queue between submission and dispatch
type QueuedJob struct {
	JobID   string          `json:"job_id"`
	Prompts []PromptMessage `json:"prompts"`
}

// ChunkMessage is published once per fragment produced for a job
type ChunkMessage struct {
	JobID   string `json:"job_id"`
	Content string `json:"content"`
	Index   uint64 `json:"index"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

// IsTerminal reports whether the message marks the end of a job's stream
func (m ChunkMessage) IsTerminal() bool {
	return m.Kind == KindDone || m.Kind == KindFailed
}

// NewIdentity generates a fresh job identity (random UUID, hyphenated)
func NewIdentity() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// New builds a QueuedJob with a freshly generated identity
func New(prompts []PromptMessage) (QueuedJob, error) {
	id, err := NewIdentity()
	if err != nil {
		return QueuedJob{}, err
	}

	copied := make([]PromptMessage, len(prompts))
	copy(copied, prompts)

	return QueuedJob{JobID: id, Prompts: copied}, nil
}

// Topic computes the publish/subscribe routing key for a job
func Topic(prefix, jobID string) string {
	return prefix + jobID
}
