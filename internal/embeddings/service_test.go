package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/corpusd/internal/config"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := NewService(config.EmbeddingsConfig{
		BaseURL: srv.URL,
		Model:   "BAAI/bge-small-en-v1.5",
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresBaseURL(t *testing.T) {
	_, err := NewService(config.EmbeddingsConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEmbedDocuments(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Inputs   []string `json:"inputs"`
			Truncate bool     `json:"truncate"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		vectors := make([][]float32, len(req.Inputs))
		for i := range req.Inputs {
			vectors[i] = []float32{float32(i), 0.5}
		}
		require.NoError(t, json.NewEncoder(w).Encode(vectors))
	})

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"first", "second", "third"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{0, 0.5}, vectors[0])
	assert.Equal(t, []float32{2, 0.5}, vectors[2])
}

func TestEmbedDocumentsEmptyInput(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called")
	})

	_, err := svc.EmbedDocuments(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedDocumentsCountMismatch(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode([][]float32{{0.1}}))
	})

	_, err := svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestEmbedQuery(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is consensus", req.Inputs)

		require.NoError(t, json.NewEncoder(w).Encode([][]float32{{0.1, 0.2, 0.3}}))
	})

	vec, err := svc.EmbedQuery(context.Background(), "what is consensus")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedQueryEmptyText(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("server should not be called")
	})

	_, err := svc.EmbedQuery(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestEmbedServerError(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})

	_, err := svc.EmbedQuery(context.Background(), "query")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
}
