package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/lexical"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// ErrRetrievalUnavailable indicates both search branches failed; no
// retrieval results can be produced at all.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable: all search branches failed")

// SemanticSearcher is the semantic branch of hybrid search.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorstore.Hit, error)
}

// LexicalSearcher is the keyword branch of hybrid search.
type LexicalSearcher interface {
	Search(ctx context.Context, query string, k int) ([]lexical.Hit, error)
}

// Engine runs both branches concurrently and fuses the results.
//
// A single failing branch degrades to the surviving branch's results; the
// failure is logged and counted but not surfaced to the caller.
type Engine struct {
	semantic SemanticSearcher
	lexical  LexicalSearcher
	logger   *logging.Logger

	topK          int
	semanticN     int
	weights       Weights
	branchTimeout time.Duration
}

// NewEngine creates a hybrid search engine.
func NewEngine(cfg config.SearchConfig, semantic SemanticSearcher, lex LexicalSearcher, logger *logging.Logger) *Engine {
	weights := Weights{Semantic: cfg.SemanticWeight, Lexical: cfg.LexicalWeight}
	if weights.Semantic == 0 && weights.Lexical == 0 {
		weights = DefaultWeights
	}

	branchTimeout := time.Duration(cfg.BranchTimeout)
	if branchTimeout <= 0 {
		branchTimeout = 10 * time.Second
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	semanticN := cfg.SemanticN
	if semanticN < topK {
		semanticN = 2 * topK
	}

	return &Engine{
		semantic:      semantic,
		lexical:       lex,
		logger:        logger,
		topK:          topK,
		semanticN:     semanticN,
		weights:       weights,
		branchTimeout: branchTimeout,
	}
}

// Search retrieves the fused top results for a query. An empty or
// whitespace query returns no results without touching either branch.
func (e *Engine) Search(ctx context.Context, query string) ([]Result, error) {
	start := time.Now()

	if strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}

	var (
		semHits []vectorstore.Hit
		lexHits []lexical.Hit
		semErr  error
		lexErr  error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, e.branchTimeout)
		defer cancel()
		semHits, semErr = e.semantic.Search(branchCtx, query, e.semanticN)
		return nil
	})

	g.Go(func() error {
		branchCtx, cancel := context.WithTimeout(gctx, e.branchTimeout)
		defer cancel()
		lexHits, lexErr = e.lexical.Search(branchCtx, query, e.semanticN)
		return nil
	})

	// Branch errors are collected, never propagated through the group;
	// one surviving branch is enough to answer.
	_ = g.Wait()

	if semErr != nil {
		branchFailures.WithLabelValues("semantic").Inc()
		e.logger.Warn(ctx, "semantic search branch failed, degrading to lexical",
			zap.Error(semErr),
		)
	}
	if lexErr != nil {
		branchFailures.WithLabelValues("lexical").Inc()
		e.logger.Warn(ctx, "lexical search branch failed, degrading to semantic",
			zap.Error(lexErr),
		)
	}

	if semErr != nil && lexErr != nil {
		return nil, ErrRetrievalUnavailable
	}

	results := Fuse(semHits, lexHits, e.weights)
	if len(results) > e.topK {
		results = results[:e.topK]
	}

	searchDuration.Observe(time.Since(start).Seconds())
	e.logger.Debug(ctx, "hybrid search complete",
		zap.Int("semantic_hits", len(semHits)),
		zap.Int("lexical_hits", len(lexHits)),
		zap.Int("results", len(results)),
	)

	return results, nil
}
