package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/config"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("corpusd.vectorstore.chromem")

// ChromemStore implements the Store interface using chromem-go, an
// embeddable pure-Go vector database persisted to gob files. It needs no
// external service, which makes it the default backend for single-node
// deployments and tests.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   config.ChromemConfig
	logger   *zap.Logger
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore creates a new ChromemStore with the given configuration.
func NewChromemStore(cfg config.ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.VectorSize <= 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(cfg.DefaultCollection); err != nil {
		return nil, fmt.Errorf("validating collection name: %w", err)
	}

	expandedPath, err := expandChromemPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	if err := os.MkdirAll(expandedPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	store := &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}

	logger.Info("chromem store initialized",
		zap.String("path", expandedPath),
		zap.Bool("compress", cfg.Compress),
		zap.Int("vector_size", cfg.VectorSize),
		zap.String("collection", cfg.DefaultCollection),
	)

	return store, nil
}

// expandChromemPath expands ~ to the home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// createEmbeddingFunc adapts the Embedder to chromem's embedding callback.
func (s *ChromemStore) createEmbeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) getOrCreateCollection(name string) (*chromem.Collection, error) {
	collection, err := s.db.GetOrCreateCollection(name, nil, s.createEmbeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}
	return collection, nil
}

// AddChunks embeds and stores chunks in the default collection.
func (s *ChromemStore) AddChunks(ctx context.Context, chunks []Chunk) error {
	start := time.Now()
	var opErr error
	defer func() {
		recordOperation("chromem", "add_chunks", time.Since(start), opErr)
	}()

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.AddChunks")
	defer span.End()

	span.SetAttributes(
		attribute.Int("chunk_count", len(chunks)),
		attribute.String("collection", s.config.DefaultCollection),
	)

	if len(chunks) == 0 {
		opErr = ErrEmptyChunks
		return opErr
	}

	collection, err := s.getOrCreateCollection(s.config.DefaultCollection)
	if err != nil {
		span.RecordError(err)
		opErr = err
		return opErr
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		opErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return opErr
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:      c.ID,
			Content: c.Content,
			Metadata: map[string]string{
				"source_path":  c.SourcePath,
				"chunk_index":  strconv.Itoa(c.Index),
				"content_hash": c.ContentHash,
			},
			Embedding: embeddings[i],
		}
	}

	// Concurrency of 1: embeddings are already computed.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		opErr = fmt.Errorf("adding documents: %w", err)
		return opErr
	}

	span.SetAttributes(attribute.Int("documents_added", len(docs)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("added chunks to chromem",
		zap.String("collection", s.config.DefaultCollection),
		zap.Int("count", len(chunks)),
	)
	return nil
}

// Search embeds the query and returns the k most similar chunks.
func (s *ChromemStore) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	start := time.Now()
	var opErr error
	defer func() {
		recordOperation("chromem", "search", time.Since(start), opErr)
	}()

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.DefaultCollection),
		attribute.Int("k", k),
	)

	if k <= 0 {
		opErr = fmt.Errorf("k must be positive, got %d", k)
		return nil, opErr
	}
	if query == "" {
		opErr = fmt.Errorf("query cannot be empty")
		return nil, opErr
	}

	collection := s.db.GetCollection(s.config.DefaultCollection, s.createEmbeddingFunc())
	if collection == nil {
		return []Hit{}, nil
	}

	// chromem requires nResults <= doc count.
	docCount := collection.Count()
	if docCount == 0 {
		return []Hit{}, nil
	}
	if k > docCount {
		k = docCount
	}

	results, err := collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		opErr = fmt.Errorf("querying collection %s: %w", s.config.DefaultCollection, err)
		return nil, opErr
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		index, _ := strconv.Atoi(r.Metadata["chunk_index"])
		hits[i] = Hit{
			ID:         r.ID,
			SourcePath: r.Metadata["source_path"],
			ChunkIndex: index,
			Content:    r.Content,
			Score:      r.Similarity,
		}
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// DeleteBySource removes every chunk belonging to the given source path.
func (s *ChromemStore) DeleteBySource(ctx context.Context, sourcePath string) error {
	start := time.Now()
	var opErr error
	defer func() {
		recordOperation("chromem", "delete_by_source", time.Since(start), opErr)
	}()

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteBySource")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.DefaultCollection),
		attribute.String("source_path", sourcePath),
	)

	if sourcePath == "" {
		opErr = fmt.Errorf("source path cannot be empty")
		return opErr
	}

	collection := s.db.GetCollection(s.config.DefaultCollection, s.createEmbeddingFunc())
	if collection == nil {
		return nil
	}

	if err := collection.Delete(ctx, map[string]string{"source_path": sourcePath}, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		opErr = fmt.Errorf("deleting chunks for %s: %w", sourcePath, err)
		return opErr
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// HealthCheck verifies the store is usable. The embedded DB has no remote
// connection, so this only checks the handle.
func (s *ChromemStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("%w: chromem DB not initialized", ErrConnectionFailed)
	}
	return nil
}

// Close releases resources. chromem persists on write, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}
