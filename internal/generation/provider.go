// Package generation produces grounded answers from retrieved context via
// hosted language model providers, with fallback, rate-limit cool-down,
// and output safety screening.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidConfig indicates invalid provider configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyCompletion indicates a provider returned no usable text
	ErrEmptyCompletion = errors.New("provider returned empty completion")

	// ErrAllProvidersFailed indicates neither primary nor fallback produced text
	ErrAllProvidersFailed = errors.New("all generation providers failed")
)

// Message is one turn of conversation history.
type Message struct {
	// Role is "user" or "assistant".
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-level generation request.
type Request struct {
	// System is the system prompt, including retrieved context.
	System string

	// Messages is the conversation, ending with the user query.
	Messages []Message

	// MaxTokens caps the completion length.
	MaxTokens int
}

// Completion is the final result of one provider call.
type Completion struct {
	Text         string
	FinishReason string
}

// Provider generates completions, streaming text deltas through onDelta
// as they arrive. The returned Completion carries the full text.
type Provider interface {
	// Label identifies the provider in logs and attempt metadata.
	Label() string

	// Model returns the configured model identifier.
	Model() string

	// StreamGenerate runs one generation. onDelta may be nil.
	StreamGenerate(ctx context.Context, req Request, onDelta func(string)) (*Completion, error)
}

// RateLimitError reports that the provider refused the request due to
// rate limiting. The orchestrator reacts by entering cool-down.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}

// IsRateLimit reports whether err is (or wraps) a RateLimitError.
func IsRateLimit(err error) bool {
	var rle *RateLimitError
	return errors.As(err, &rle)
}
