package completion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/cuongbtq/completion-relay/internal/job"
)

// GeminiConfig holds settings for the Gemini API
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GeminiExecutor streams completions from Google's Gemini API
type GeminiExecutor struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiExecutor creates a Gemini client for the configured model
func NewGeminiExecutor(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiExecutor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key cannot be empty")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiExecutor{
		client: client,
		model:  cfg.Model,
		logger: logger,
	}, nil
}

// Stream sends the prompts and forwards each text part in arrival order
func (e *GeminiExecutor) Stream(ctx context.Context, prompts []job.PromptMessage, onFragment FragmentHandler) error {
	contents, config := geminiRequest(prompts)

	fragments := 0
	for resp, err := range e.client.Models.GenerateContentStream(ctx, e.model, contents, config) {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCompletion, err)
		}

		for _, text := range responseTexts(resp) {
			fragments++
			onFragment(text)
		}
	}

	e.logger.Debug("Completion stream finished",
		slog.String("model", e.model),
		slog.Int("fragments", fragments),
	)
	return nil
}

// geminiRequest maps chat prompts onto Gemini contents. System prompts become
// the system instruction and the assistant role becomes "model".
func geminiRequest(prompts []job.PromptMessage) ([]*genai.Content, *genai.GenerateContentConfig) {
	var (
		contents []*genai.Content
		system   []string
	)

	for _, p := range prompts {
		switch strings.ToLower(p.Role) {
		case "system":
			system = append(system, p.Content)
		case "assistant", "model":
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: p.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: p.Content}}})
		}
	}

	config := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
		}
	}

	return contents, config
}

func responseTexts(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return nil
	}

	var texts []string
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		texts = append(texts, part.Text)
	}
	return texts
}
