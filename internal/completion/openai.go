package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cuongbtq/completion-relay/internal/job"
)

// OpenAIConfig holds settings for an OpenAI-compatible chat completions endpoint
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIExecutor streams chat completions from an OpenAI-compatible API
type OpenAIExecutor struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

// NewOpenAIExecutor creates an executor for the given endpoint
func NewOpenAIExecutor(cfg OpenAIConfig, logger *slog.Logger) *OpenAIExecutor {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIExecutor{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		logger: logger,
	}
}

// Stream sends the prompts and forwards each non-empty content delta
func (e *OpenAIExecutor) Stream(ctx context.Context, prompts []job.PromptMessage, onFragment FragmentHandler) error {
	messages := make([]openai.ChatCompletionMessage, len(prompts))
	for i, p := range prompts {
		messages[i] = openai.ChatCompletionMessage{Role: p.Role, Content: p.Content}
	}

	stream, err := e.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return fmt.Errorf("%w: open stream: %v", ErrCompletion, err)
	}
	defer stream.Close()

	fragments := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			e.logger.Debug("Completion stream finished",
				slog.String("model", e.model),
				slog.Int("fragments", fragments),
			)
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: receive: %v", ErrCompletion, err)
		}

		if len(resp.Choices) == 0 {
			continue
		}

		// Role-only and finish deltas carry no content
		content := resp.Choices[0].Delta.Content
		if content == "" {
			continue
		}

		fragments++
		onFragment(content)
	}
}
