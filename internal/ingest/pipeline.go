// Package ingest turns source documents into indexed corpus chunks.
//
// Ingestion is idempotent by content hash: re-ingesting an unchanged
// document is a no-op, and a changed document is deleted and reinserted
// wholesale so stale chunks never linger.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/lexical"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

var (
	// ErrEmptySourcePath indicates a missing source path
	ErrEmptySourcePath = errors.New("source path cannot be empty")

	// ErrEmptyDocument indicates a document with no content
	ErrEmptyDocument = errors.New("document cannot be empty")
)

// ChunkStore is the vector store surface the pipeline needs.
type ChunkStore interface {
	AddChunks(ctx context.Context, chunks []vectorstore.Chunk) error
	DeleteBySource(ctx context.Context, sourcePath string) error
}

// LexicalIndex is the keyword index surface the pipeline needs.
type LexicalIndex interface {
	Add(ctx context.Context, entries []lexical.Entry) error
	DeleteBySource(ctx context.Context, sourcePath string) error
}

type manifestEntry struct {
	hash  string
	count int
}

// Pipeline chunks, embeds, and indexes source documents.
type Pipeline struct {
	store    ChunkStore
	index    LexicalIndex
	splitter textsplitter.RecursiveCharacter
	logger   *logging.Logger

	mu       sync.Mutex
	manifest map[string]manifestEntry
}

// NewPipeline creates an ingestion pipeline. Chunk size and overlap come
// from configuration; overlap keeps statements intact across boundaries.
func NewPipeline(cfg config.IngestConfig, store ChunkStore, index LexicalIndex, logger *logging.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("chunk store is required")
	}
	if index == nil {
		return nil, fmt.Errorf("lexical index is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	overlap := cfg.ChunkOverlap
	if overlap < 0 || overlap >= chunkSize {
		overlap = 200
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(overlap),
	)

	return &Pipeline{
		store:    store,
		index:    index,
		splitter: splitter,
		logger:   logger,
		manifest: make(map[string]manifestEntry),
	}, nil
}

// Ingest indexes one document and returns the number of chunks stored.
// An unchanged document (same content hash) returns the existing count
// without touching the stores.
func (p *Pipeline) Ingest(ctx context.Context, sourcePath, text string) (int, error) {
	if sourcePath == "" {
		return 0, ErrEmptySourcePath
	}
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyDocument
	}

	hash := contentHash(text)

	p.mu.Lock()
	if entry, ok := p.manifest[sourcePath]; ok && entry.hash == hash {
		p.mu.Unlock()
		p.logger.Debug(ctx, "document unchanged, skipping ingest",
			zap.String("source_path", sourcePath),
		)
		return entry.count, nil
	}
	p.mu.Unlock()

	pieces, err := p.splitter.SplitText(text)
	if err != nil {
		return 0, fmt.Errorf("splitting %s: %w", sourcePath, err)
	}

	chunks := make([]vectorstore.Chunk, len(pieces))
	entries := make([]lexical.Entry, len(pieces))
	for i, piece := range pieces {
		id := chunkID(sourcePath, i)
		chunks[i] = vectorstore.Chunk{
			ID:          id,
			SourcePath:  sourcePath,
			Index:       i,
			Content:     piece,
			ContentHash: hash,
		}
		entries[i] = lexical.Entry{
			ID:         id,
			SourcePath: sourcePath,
			ChunkIndex: i,
			Content:    piece,
		}
	}

	// Delete-then-reinsert. The two stores are not updated atomically;
	// a failure between them is healed by the next ingest of the same
	// source.
	if err := p.store.DeleteBySource(ctx, sourcePath); err != nil {
		return 0, fmt.Errorf("deleting stale chunks for %s: %w", sourcePath, err)
	}
	if err := p.index.DeleteBySource(ctx, sourcePath); err != nil {
		return 0, fmt.Errorf("deleting stale entries for %s: %w", sourcePath, err)
	}

	if err := p.store.AddChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("storing chunks for %s: %w", sourcePath, err)
	}
	if err := p.index.Add(ctx, entries); err != nil {
		return 0, fmt.Errorf("indexing entries for %s: %w", sourcePath, err)
	}

	p.mu.Lock()
	p.manifest[sourcePath] = manifestEntry{hash: hash, count: len(chunks)}
	p.mu.Unlock()

	ingestedChunks.Add(float64(len(chunks)))
	p.logger.Info(ctx, "document ingested",
		zap.String("source_path", sourcePath),
		zap.Int("chunks", len(chunks)),
	)
	return len(chunks), nil
}

// Remove deletes every chunk of a source from both stores.
func (p *Pipeline) Remove(ctx context.Context, sourcePath string) error {
	if sourcePath == "" {
		return ErrEmptySourcePath
	}

	if err := p.store.DeleteBySource(ctx, sourcePath); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", sourcePath, err)
	}
	if err := p.index.DeleteBySource(ctx, sourcePath); err != nil {
		return fmt.Errorf("deleting entries for %s: %w", sourcePath, err)
	}

	p.mu.Lock()
	delete(p.manifest, sourcePath)
	p.mu.Unlock()

	p.logger.Info(ctx, "document removed",
		zap.String("source_path", sourcePath),
	)
	return nil
}

// chunkID is stable across re-ingestions of the same source.
func chunkID(sourcePath string, index int) string {
	return fmt.Sprintf("%s#%d", sourcePath, index)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
