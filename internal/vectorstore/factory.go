package vectorstore

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/config"
)

// New creates a Store backend based on the configured provider.
func New(cfg config.VectorStoreConfig, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, embedder, logger)
	case "chromem":
		return NewChromemStore(cfg.Chromem, embedder, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
