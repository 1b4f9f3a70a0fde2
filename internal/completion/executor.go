// Package completion streams chat completions from an upstream model provider.
package completion

import (
	"context"
	"errors"

	"github.com/cuongbtq/completion-relay/internal/job"
)

// ErrCompletion wraps every upstream failure, whether it happens before the
// first fragment or mid-stream
var ErrCompletion = errors.New("completion failed")

// FragmentHandler receives each text fragment in stream order
type FragmentHandler func(fragment string)

// Executor runs one prompt sequence and streams the answer fragment by fragment.
// Stream returns nil once the upstream signals the end of the answer.
type Executor interface {
	Stream(ctx context.Context, prompts []job.PromptMessage, onFragment FragmentHandler) error
}
