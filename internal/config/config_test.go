package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	ApplyDefaults(&cfg)

	assert.Equal(t, 9180, cfg.Server.Port)
	assert.Equal(t, "chromem", cfg.VectorStore.Provider)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, 10, cfg.Search.SemanticN)
	assert.InDelta(t, 0.7, cfg.Search.SemanticWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.Search.LexicalWeight, 1e-9)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, 768, cfg.VectorStore.Chromem.VectorSize)
	assert.Equal(t, time.Minute, cfg.Generation.RateLimitCooldown.Duration())
}

func TestApplyDefaultsPreservesExplicitWeights(t *testing.T) {
	cfg := Config{Search: SearchConfig{SemanticWeight: 0.5, LexicalWeight: 0.5}}
	ApplyDefaults(&cfg)

	assert.InDelta(t, 0.5, cfg.Search.SemanticWeight, 1e-9)
	assert.InDelta(t, 0.5, cfg.Search.LexicalWeight, 1e-9)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		var cfg Config
		ApplyDefaults(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = -1 }, "invalid port"},
		{"unknown vectorstore", func(c *Config) { c.VectorStore.Provider = "pinecone" }, "unknown provider"},
		{"semantic_n below top_k", func(c *Config) { c.Search.SemanticN = 2 }, "semantic_n"},
		{"negative weight", func(c *Config) { c.Search.LexicalWeight = -0.1 }, "non-negative"},
		{"zero weights", func(c *Config) {
			c.Search.SemanticWeight = 0
			c.Search.LexicalWeight = 0
		}, "at least one weight"},
		{"unknown provider kind", func(c *Config) { c.Generation.Primary.Kind = "cohere" }, "provider kind"},
		{"overlap >= chunk size", func(c *Config) { c.Ingest.ChunkOverlap = 1000 }, "chunk_overlap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("sk-super-secret")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "sk-super-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "super-secret")

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "server.port", envTransform("SERVER_PORT"))
	assert.Equal(t, "embeddings.base_url", envTransform("EMBEDDINGS_BASE_URL"))
	assert.Equal(t, "search.top_k", envTransform("SEARCH_TOP_K"))
	assert.Equal(t, "port", envTransform("PORT"))
}
