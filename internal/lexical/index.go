// Package lexical provides an in-memory keyword index over corpus chunks.
//
// The index complements semantic search: it catches exact identifiers and
// rare terms that embedding similarity misses, and tolerates small typos
// through per-term fuzzy matching.
package lexical

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// Entry is one chunk to be indexed.
type Entry struct {
	ID         string
	SourcePath string
	ChunkIndex int
	Content    string
}

// Hit is one keyword search result.
type Hit struct {
	ID         string
	SourcePath string
	ChunkIndex int
	Content    string
	// Score is a BM25 relevance score; unbounded, higher is better.
	Score float64
}

// bleveEntry is the document shape stored in the index.
type bleveEntry struct {
	Content    string  `json:"content"`
	SourcePath string  `json:"source_path"`
	ChunkIndex float64 `json:"chunk_index"`
}

// Index is an in-memory BM25 index over chunks. Nothing is persisted;
// the index holds whatever ingestion has added since startup (the
// directory watcher's initial sync, when configured, repopulates it).
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	logger *zap.Logger

	// idsBySource tracks chunk IDs per source path for deletion.
	idsBySource map[string][]string
	closed      bool
}

// NewIndex creates an empty in-memory index.
func NewIndex(logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating in-memory index: %w", err)
	}

	return &Index{
		index:       idx,
		logger:      logger,
		idsBySource: make(map[string][]string),
	}, nil
}

// Add indexes a batch of entries.
func (x *Index) Add(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("index is closed")
	}

	batch := x.index.NewBatch()
	for _, e := range entries {
		doc := bleveEntry{
			Content:    e.Content,
			SourcePath: e.SourcePath,
			ChunkIndex: float64(e.ChunkIndex),
		}
		if err := batch.Index(e.ID, doc); err != nil {
			return fmt.Errorf("indexing entry %s: %w", e.ID, err)
		}
	}

	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("executing batch: %w", err)
	}

	for _, e := range entries {
		x.idsBySource[e.SourcePath] = append(x.idsBySource[e.SourcePath], e.ID)
	}

	x.logger.Debug("indexed entries", zap.Int("count", len(entries)))
	return nil
}

// fuzziness allows roughly one edit per five characters, capped at
// bleve's maximum of 2.
func fuzziness(term string) int {
	f := len(term) / 5
	if f > 2 {
		f = 2
	}
	return f
}

// buildQuery builds a disjunction over the query terms. Each term matches
// via analysis, typo-tolerant fuzzy matching, and prefix expansion.
func buildQuery(queryStr string) query.Query {
	terms := strings.Fields(strings.ToLower(queryStr))
	perTerm := make([]query.Query, 0, len(terms))

	for _, term := range terms {
		match := bleve.NewMatchQuery(term)
		match.SetField("content")

		clauses := []query.Query{match}

		if f := fuzziness(term); f > 0 {
			fuzzy := bleve.NewFuzzyQuery(term)
			fuzzy.SetField("content")
			fuzzy.SetFuzziness(f)
			clauses = append(clauses, fuzzy)
		}

		prefix := bleve.NewPrefixQuery(term)
		prefix.SetField("content")
		clauses = append(clauses, prefix)

		perTerm = append(perTerm, bleve.NewDisjunctionQuery(clauses...))
	}

	return bleve.NewDisjunctionQuery(perTerm...)
}

// Search returns up to k entries matching the query, scored by BM25.
// An empty or whitespace query returns no hits.
func (x *Index) Search(ctx context.Context, queryStr string, k int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if strings.TrimSpace(queryStr) == "" {
		return []Hit{}, nil
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	req := bleve.NewSearchRequest(buildQuery(queryStr))
	req.Size = k
	req.Fields = []string{"content", "source_path", "chunk_index"}

	result, err := x.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hit := Hit{
			ID:    h.ID,
			Score: h.Score,
		}
		if content, ok := h.Fields["content"].(string); ok {
			hit.Content = content
		}
		if sourcePath, ok := h.Fields["source_path"].(string); ok {
			hit.SourcePath = sourcePath
		}
		if chunkIndex, ok := h.Fields["chunk_index"].(float64); ok {
			hit.ChunkIndex = int(chunkIndex)
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// DeleteBySource removes every entry for the given source path.
func (x *Index) DeleteBySource(ctx context.Context, sourcePath string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return fmt.Errorf("index is closed")
	}

	ids := x.idsBySource[sourcePath]
	if len(ids) == 0 {
		return nil
	}

	batch := x.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}

	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("deleting entries for %s: %w", sourcePath, err)
	}

	delete(x.idsBySource, sourcePath)
	return nil
}

// DocCount returns the number of indexed entries.
func (x *Index) DocCount() (uint64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if x.closed {
		return 0, fmt.Errorf("index is closed")
	}
	return x.index.DocCount()
}

// Close releases index resources.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}
	x.closed = true
	return x.index.Close()
}
