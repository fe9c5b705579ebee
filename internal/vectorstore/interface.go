// Package vectorstore provides vector storage implementations for corpus chunks.
package vectorstore

import (
	"context"
	"errors"
)

var (
	// ErrInvalidConfig indicates invalid store configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the store backend could not be reached
	ErrConnectionFailed = errors.New("connection failed")

	// ErrCollectionNotFound indicates the target collection does not exist
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidCollectionName indicates a collection name failing validation
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrEmptyChunks indicates an empty chunk batch
	ErrEmptyChunks = errors.New("chunks cannot be empty")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Chunk is one indexed span of a source document.
type Chunk struct {
	// ID uniquely identifies the chunk, of the form "{source_path}#{index}".
	ID string

	// SourcePath is the path of the document the chunk came from.
	SourcePath string

	// Index is the zero-based position of the chunk within its source.
	Index int

	// Content is the chunk text.
	Content string

	// ContentHash is the SHA-256 hex digest of the full source document.
	ContentHash string
}

// Hit is one search result with its similarity score.
type Hit struct {
	ID         string
	SourcePath string
	ChunkIndex int
	Content    string
	// Score is a cosine similarity in [0, 1]; higher is closer.
	Score float32
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the interface all vector store backends implement.
type Store interface {
	// AddChunks embeds and stores a batch of chunks.
	AddChunks(ctx context.Context, chunks []Chunk) error

	// Search embeds the query and returns the k most similar chunks.
	Search(ctx context.Context, query string, k int) ([]Hit, error)

	// DeleteBySource removes every chunk belonging to the given source path.
	DeleteBySource(ctx context.Context, sourcePath string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
