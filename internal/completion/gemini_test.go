package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/cuongbtq/completion-relay/internal/job"
)

func TestGeminiRequest(t *testing.T) {
	contents, config := geminiRequest([]job.PromptMessage{
		{Role: "system", Content: "You are terse."},
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello."},
		{Role: "user", Content: "Bye"},
	})

	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "Hi", contents[0].Parts[0].Text)
	assert.Equal(t, "model", contents[1].Role)
	assert.Equal(t, "Hello.", contents[1].Parts[0].Text)
	assert.Equal(t, "user", contents[2].Role)

	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "You are terse.", config.SystemInstruction.Parts[0].Text)
}

func TestGeminiRequest_NoSystemPrompt(t *testing.T) {
	_, config := geminiRequest([]job.PromptMessage{{Role: "user", Content: "Hi"}})
	assert.Nil(t, config.SystemInstruction)
}

func TestResponseTexts(t *testing.T) {
	assert.Nil(t, responseTexts(nil))
	assert.Nil(t, responseTexts(&genai.GenerateContentResponse{}))

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: "Hel"}, {Text: ""}, {Text: "lo"}}},
		}},
	}
	assert.Equal(t, []string{"Hel", "lo"}, responseTexts(resp))
}

func TestNewGeminiExecutor_RequiresKey(t *testing.T) {
	_, err := NewGeminiExecutor(t.Context(), GeminiConfig{Model: "gemini-2.0-flash"}, testLogger())
	require.Error(t, err)
}
