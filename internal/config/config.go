// Package config provides configuration loading for corpusd.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/corpusd/internal/logging"
)

// Config is the root configuration for corpusd.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       logging.Config      `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Search        SearchConfig        `koanf:"search"`
	Generation    GenerationConfig    `koanf:"generation"`
	Ingest        IngestConfig        `koanf:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	ServiceName  string `koanf:"service_name"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	Insecure     bool   `koanf:"insecure"`
}

// EmbeddingsConfig holds the remote embedding service settings.
type EmbeddingsConfig struct {
	BaseURL string   `koanf:"base_url"`
	Model   string   `koanf:"model"`
	APIKey  Secret   `koanf:"api_key"`
	Timeout Duration `koanf:"timeout"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Provider is "qdrant" (external, gRPC) or "chromem" (embedded).
	Provider string        `koanf:"provider"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
	Chromem  ChromemConfig `koanf:"chromem"`
}

// QdrantConfig holds Qdrant gRPC client settings.
type QdrantConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	CollectionName string   `koanf:"collection_name"`
	VectorSize     int      `koanf:"vector_size"`
	UseTLS         bool     `koanf:"use_tls"`
	Timeout        Duration `koanf:"timeout"`
}

// ChromemConfig holds embedded chromem-go settings.
type ChromemConfig struct {
	Path              string `koanf:"path"`
	Compress          bool   `koanf:"compress"`
	DefaultCollection string `koanf:"default_collection"`
	VectorSize        int    `koanf:"vector_size"`
}

// SearchConfig tunes the hybrid retrieval engine.
type SearchConfig struct {
	TopK           int      `koanf:"top_k"`
	SemanticN      int      `koanf:"semantic_n"`
	SemanticWeight float64  `koanf:"semantic_weight"`
	LexicalWeight  float64  `koanf:"lexical_weight"`
	BranchTimeout  Duration `koanf:"branch_timeout"`
}

// ProviderConfig holds settings for one LLM provider.
type ProviderConfig struct {
	// Kind is "anthropic" or "openai".
	Kind    string   `koanf:"kind"`
	Model   string   `koanf:"model"`
	BaseURL string   `koanf:"base_url"`
	APIKey  Secret   `koanf:"api_key"`
	Timeout Duration `koanf:"timeout"`
}

// GenerationConfig holds orchestrator and provider settings.
type GenerationConfig struct {
	Primary  ProviderConfig `koanf:"primary"`
	Fallback ProviderConfig `koanf:"fallback"`
	// RateLimitCooldown is how long a rate-limited primary is demoted.
	RateLimitCooldown Duration `koanf:"rate_limit_cooldown"`
	// SummaryEveryN triggers a rolling conversation summary refresh
	// every N turns. Zero disables summaries.
	SummaryEveryN int `koanf:"summary_every_n"`
	MaxTokens     int `koanf:"max_tokens"`
}

// IngestConfig tunes chunking and the optional directory watcher.
type IngestConfig struct {
	ChunkSize    int    `koanf:"chunk_size"`
	ChunkOverlap int    `koanf:"chunk_overlap"`
	WatchDir     string `koanf:"watch_dir"`
}

// ApplyDefaults sets default values for missing configuration fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9180
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "corpusd"
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-base-en-v1.5"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(15 * time.Second)
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}
	if cfg.VectorStore.Qdrant.CollectionName == "" {
		cfg.VectorStore.Qdrant.CollectionName = "corpusd_chunks"
	}
	if cfg.VectorStore.Qdrant.VectorSize == 0 {
		cfg.VectorStore.Qdrant.VectorSize = 768
	}
	if cfg.VectorStore.Qdrant.Timeout == 0 {
		cfg.VectorStore.Qdrant.Timeout = Duration(10 * time.Second)
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/corpusd/vectorstore"
	}
	if cfg.VectorStore.Chromem.DefaultCollection == "" {
		cfg.VectorStore.Chromem.DefaultCollection = "corpusd_chunks"
	}
	if cfg.VectorStore.Chromem.VectorSize == 0 {
		cfg.VectorStore.Chromem.VectorSize = 768
	}

	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 5
	}
	if cfg.Search.SemanticN == 0 {
		cfg.Search.SemanticN = 10
	}
	if cfg.Search.SemanticWeight == 0 && cfg.Search.LexicalWeight == 0 {
		cfg.Search.SemanticWeight = 0.7
		cfg.Search.LexicalWeight = 0.3
	}
	if cfg.Search.BranchTimeout == 0 {
		cfg.Search.BranchTimeout = Duration(8 * time.Second)
	}

	if cfg.Generation.Primary.Kind == "" {
		cfg.Generation.Primary.Kind = "anthropic"
	}
	if cfg.Generation.RateLimitCooldown == 0 {
		cfg.Generation.RateLimitCooldown = Duration(60 * time.Second)
	}
	if cfg.Generation.SummaryEveryN == 0 {
		cfg.Generation.SummaryEveryN = 6
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 2048
	}
	if cfg.Generation.Primary.Timeout == 0 {
		cfg.Generation.Primary.Timeout = Duration(90 * time.Second)
	}
	if cfg.Generation.Fallback.Timeout == 0 {
		cfg.Generation.Fallback.Timeout = Duration(90 * time.Second)
	}

	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 200
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", c.Server.Port)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}

	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("embeddings: base_url required")
	}

	switch c.VectorStore.Provider {
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" {
			return fmt.Errorf("vectorstore: qdrant host required")
		}
		if c.VectorStore.Qdrant.VectorSize <= 0 {
			return fmt.Errorf("vectorstore: qdrant vector_size must be positive")
		}
	case "chromem":
		if c.VectorStore.Chromem.VectorSize <= 0 {
			return fmt.Errorf("vectorstore: chromem vector_size must be positive")
		}
	default:
		return fmt.Errorf("vectorstore: unknown provider %q", c.VectorStore.Provider)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("search: top_k must be positive")
	}
	if c.Search.SemanticN < c.Search.TopK {
		return fmt.Errorf("search: semantic_n (%d) must be >= top_k (%d)", c.Search.SemanticN, c.Search.TopK)
	}
	if c.Search.SemanticWeight < 0 || c.Search.LexicalWeight < 0 {
		return fmt.Errorf("search: weights must be non-negative")
	}
	if c.Search.SemanticWeight+c.Search.LexicalWeight == 0 {
		return fmt.Errorf("search: at least one weight must be positive")
	}

	if c.Generation.Primary.Kind != "anthropic" && c.Generation.Primary.Kind != "openai" {
		return fmt.Errorf("generation: unknown primary provider kind %q", c.Generation.Primary.Kind)
	}
	if c.Generation.Fallback.Kind != "" &&
		c.Generation.Fallback.Kind != "anthropic" && c.Generation.Fallback.Kind != "openai" {
		return fmt.Errorf("generation: unknown fallback provider kind %q", c.Generation.Fallback.Kind)
	}

	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest: chunk_size must be positive")
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest: chunk_overlap must be in [0, chunk_size)")
	}

	return nil
}
