package generation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/config"
)

func TestNewProviderUnknownKind(t *testing.T) {
	_, err := NewProvider(config.ProviderConfig{Kind: "cohere"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewAnthropicProviderValidation(t *testing.T) {
	_, err := NewAnthropicProvider(config.ProviderConfig{Model: "m"})
	require.Error(t, err)

	_, err = NewAnthropicProvider(config.ProviderConfig{APIKey: config.Secret("key")})
	require.Error(t, err)
}

func TestAnthropicStreamGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\n")
		fmt.Fprint(w, "data: {\"type\":\"message_start\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Raft \"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"elects.\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(config.ProviderConfig{
		Kind:    "anthropic",
		Model:   "claude-test",
		BaseURL: srv.URL,
		APIKey:  config.Secret("test-key"),
	})
	require.NoError(t, err)

	var deltas []string
	completion, err := p.StreamGenerate(context.Background(), Request{
		System:    "answer briefly",
		Messages:  []Message{{Role: "user", Content: "what is raft"}},
		MaxTokens: 64,
	}, func(d string) { deltas = append(deltas, d) })
	require.NoError(t, err)

	assert.Equal(t, "Raft elects.", completion.Text)
	assert.Equal(t, "end_turn", completion.FinishReason)
	assert.Equal(t, []string{"Raft ", "elects."}, deltas)
}

func TestAnthropicRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(config.ProviderConfig{
		Model:   "claude-test",
		BaseURL: srv.URL,
		APIKey:  config.Secret("k"),
	})
	require.NoError(t, err)

	_, err = p.StreamGenerate(context.Background(), Request{}, nil)
	require.Error(t, err)
	require.True(t, IsRateLimit(err))

	var rle *RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "anthropic", rle.Provider)
	assert.Equal(t, float64(30), rle.RetryAfter.Seconds())
}

func TestAnthropicServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider(config.ProviderConfig{
		Model:   "claude-test",
		BaseURL: srv.URL,
		APIKey:  config.Secret("k"),
	})
	require.NoError(t, err)

	_, err = p.StreamGenerate(context.Background(), Request{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestOpenAIStreamGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Logs \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"replicate.\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.ProviderConfig{
		Kind:    "openai",
		Model:   "gpt-test",
		BaseURL: srv.URL,
		APIKey:  config.Secret("test-key"),
	})
	require.NoError(t, err)

	var streamed string
	completion, err := p.StreamGenerate(context.Background(), Request{
		System:   "answer briefly",
		Messages: []Message{{Role: "user", Content: "how do logs replicate"}},
	}, func(d string) { streamed += d })
	require.NoError(t, err)

	assert.Equal(t, "Logs replicate.", completion.Text)
	assert.Equal(t, "stop", completion.FinishReason)
	assert.Equal(t, "Logs replicate.", streamed)
}

func TestOpenAIRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(config.ProviderConfig{
		Model:   "gpt-test",
		BaseURL: srv.URL,
		APIKey:  config.Secret("k"),
	})
	require.NoError(t, err)

	_, err = p.StreamGenerate(context.Background(), Request{}, nil)
	require.Error(t, err)
	assert.True(t, IsRateLimit(err))
}

func TestScreenCleanText(t *testing.T) {
	s := NewScreen()
	assert.False(t, s.Check("Raft needs a majority of votes to elect a leader."))
	assert.False(t, s.Check(""))
	assert.True(t, s.Check("use password: hunter2"))
}
