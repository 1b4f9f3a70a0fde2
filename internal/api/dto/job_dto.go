package dto

type PromptMessage struct {
	Role    string `json:"role" binding:"required,oneof=system user assistant"`
	Content string `json:"content" binding:"required"`
}

type CreateCompletionRequest struct {
	Prompts []PromptMessage `json:"prompts" binding:"required,min=1,dive"`
}

type CreateCompletionResponse struct {
	JobID string `json:"job_id"`
	Topic string `json:"topic"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	PromptCount  int    `json:"prompt_count"`
	ChunkCount   int64  `json:"chunk_count"`
	WorkerID     string `json:"worker_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	StartedAt    string `json:"started_at,omitempty"`
	CompletedAt  string `json:"completed_at,omitempty"`
	UpdatedAt    string `json:"updated_at"`
}
