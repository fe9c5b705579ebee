package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
)

// scriptedProvider returns canned responses in call order.
type scriptedProvider struct {
	label string
	texts []string
	errs  []error
	calls int
}

func (p *scriptedProvider) Label() string { return p.label }
func (p *scriptedProvider) Model() string { return p.label + "-model" }

func (p *scriptedProvider) StreamGenerate(_ context.Context, _ Request, onDelta func(string)) (*Completion, error) {
	i := p.calls
	p.calls++

	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}

	text := ""
	if i < len(p.texts) {
		text = p.texts[i]
	}
	if onDelta != nil && text != "" {
		onDelta(text)
	}
	return &Completion{Text: text, FinishReason: "stop"}, nil
}

func newTestOrchestrator(t *testing.T, primary, fallback Provider) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(config.GenerationConfig{
		RateLimitCooldown: config.Duration(time.Minute),
		MaxTokens:         256,
	}, primary, fallback, logging.NewNop())
	require.NoError(t, err)
	return o
}

func askReq() PromptRequest {
	return PromptRequest{SessionID: "s1", Query: "what is raft", Context: "raft is a consensus protocol"}
}

func TestGeneratePrimarySuccess(t *testing.T) {
	primary := &scriptedProvider{label: "anthropic", texts: []string{"Raft elects a leader."}}
	fallback := &scriptedProvider{label: "openai"}
	o := newTestOrchestrator(t, primary, fallback)

	var streamed string
	result, err := o.Generate(context.Background(), askReq(), func(d string) { streamed += d })
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "Raft elects a leader.", result.Text)
	assert.Equal(t, "Raft elects a leader.", streamed)
	assert.Equal(t, "anthropic", result.Attempt.ProviderLabel)
	assert.Equal(t, 0, fallback.calls)
}

func TestGenerateEmptyPrimaryFallsBackOnce(t *testing.T) {
	primary := &scriptedProvider{label: "anthropic", texts: []string{"   "}}
	fallback := &scriptedProvider{label: "openai", texts: []string{"Fallback answer."}}
	o := newTestOrchestrator(t, primary, fallback)

	var streamed string
	result, err := o.Generate(context.Background(), askReq(), func(d string) { streamed += d })
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, "Fallback answer.", result.Text)
	assert.Equal(t, "Fallback answer.", streamed)
	assert.Equal(t, "openai", result.Attempt.ProviderLabel)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestGenerateBlockedOutput(t *testing.T) {
	primary := &scriptedProvider{label: "anthropic", texts: []string{"The card number is 4111111111111111."}}
	o := newTestOrchestrator(t, primary, nil)

	var streamed string
	result, err := o.Generate(context.Background(), askReq(), func(d string) { streamed += d })
	require.NoError(t, err)

	assert.Equal(t, StateBlocked, result.State)
	assert.Equal(t, BlockedMessage, result.Text)
	assert.Equal(t, BlockedMessage, streamed)
	assert.NotContains(t, streamed, "4111111111111111")
}

func TestGenerateBlockedPIIPhrasing(t *testing.T) {
	primary := &scriptedProvider{label: "anthropic", texts: []string{"Their social security number appears in the file."}}
	o := newTestOrchestrator(t, primary, nil)

	result, err := o.Generate(context.Background(), askReq(), nil)
	require.NoError(t, err)
	assert.Equal(t, StateBlocked, result.State)
}

func TestGenerateBothFail(t *testing.T) {
	primary := &scriptedProvider{label: "anthropic", errs: []error{errors.New("boom")}}
	fallback := &scriptedProvider{label: "openai", errs: []error{errors.New("also boom")}}
	o := newTestOrchestrator(t, primary, fallback)

	result, err := o.Generate(context.Background(), askReq(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

func TestGenerateNoFallbackConfigured(t *testing.T) {
	cause := errors.New("boom")
	primary := &scriptedProvider{label: "anthropic", errs: []error{cause}}
	o := newTestOrchestrator(t, primary, nil)

	result, err := o.Generate(context.Background(), askReq(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StateFailed, result.State)
}

func TestGenerateRateLimitEntersCooldownAndSwapsPreference(t *testing.T) {
	primary := &scriptedProvider{
		label: "anthropic",
		errs:  []error{&RateLimitError{Provider: "anthropic"}},
		texts: []string{"", "late primary answer"},
	}
	fallback := &scriptedProvider{label: "openai", texts: []string{"first fallback", "second fallback"}}
	o := newTestOrchestrator(t, primary, fallback)

	// First request: primary rate limited, fallback answers.
	result, err := o.Generate(context.Background(), askReq(), nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Attempt.ProviderLabel)
	assert.True(t, o.inCooldown())

	// Second request: cool-down active, fallback preferred outright.
	result, err = o.Generate(context.Background(), askReq(), nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", result.Attempt.ProviderLabel)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 2, fallback.calls)
}

func TestGenerateRateLimitRetryAfterExtendsCooldown(t *testing.T) {
	primary := &scriptedProvider{label: "anthropic"}
	o := newTestOrchestrator(t, primary, nil)

	o.enterCooldown(&RateLimitError{Provider: "anthropic", RetryAfter: 5 * time.Minute})

	until := time.Unix(0, o.cooldownUntil.Load())
	assert.Greater(t, time.Until(until), 4*time.Minute)
}

func TestBuildRequestIncludesContextAndSummary(t *testing.T) {
	primary := &scriptedProvider{label: "anthropic"}
	o := newTestOrchestrator(t, primary, nil)
	o.summaries["s1"] = "prior discussion about raft"

	req := o.buildRequest(PromptRequest{
		SessionID: "s1",
		Query:     "and leases?",
		Context:   "leases bound leader validity",
		History:   []Message{{Role: "user", Content: "what is raft"}, {Role: "assistant", Content: "a consensus protocol"}},
	})

	assert.Contains(t, req.System, "prior discussion about raft")
	assert.Contains(t, req.System, "leases bound leader validity")
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "and leases?", req.Messages[2].Content)
	assert.Equal(t, "user", req.Messages[2].Role)
}

func TestNewOrchestratorRequiresPrimary(t *testing.T) {
	_, err := NewOrchestrator(config.GenerationConfig{}, nil, nil, logging.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "blocked", StateBlocked.String())
	assert.Equal(t, "failed", StateFailed.String())
}

func TestIsRateLimit(t *testing.T) {
	assert.True(t, IsRateLimit(&RateLimitError{Provider: "x"}))
	assert.True(t, IsRateLimit(errorsWrap(&RateLimitError{Provider: "x"})))
	assert.False(t, IsRateLimit(errors.New("plain")))
	assert.False(t, IsRateLimit(nil))
}

func errorsWrap(err error) error {
	return &wrappedErr{err}
}

type wrappedErr struct{ inner error }

func (w *wrappedErr) Error() string { return "wrapped: " + w.inner.Error() }
func (w *wrappedErr) Unwrap() error { return w.inner }
