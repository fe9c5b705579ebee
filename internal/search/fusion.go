// Package search provides hybrid retrieval combining semantic and keyword
// search over the corpus. Branch scores are normalized and fused with a
// weighted sum; chunks surfaced by both branches accumulate both
// contributions and rank above single-branch hits of similar strength.
package search

import (
	"sort"

	"github.com/fyrsmithlabs/corpusd/internal/lexical"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// Weights controls the contribution of each branch to the fused score.
type Weights struct {
	Semantic float64
	Lexical  float64
}

// DefaultWeights favor semantic similarity while keeping keyword matches
// relevant. 0.7/0.3 held up best across our evaluation corpora.
var DefaultWeights = Weights{Semantic: 0.7, Lexical: 0.3}

// Result is one fused retrieval result.
type Result struct {
	ID         string
	SourcePath string
	ChunkIndex int
	Content    string

	// Score is the fused weighted score in [0, 1].
	Score float64

	// SemanticScore and LexicalScore preserve the per-branch normalized
	// scores; zero means the branch did not surface the chunk.
	SemanticScore float64
	LexicalScore  float64

	// InBoth reports whether both branches surfaced the chunk.
	InBoth bool
}

// Fuse combines the two branch result lists.
//
// Each branch's scores are normalized by that branch's maximum, so the
// strongest hit per branch contributes its full weight regardless of the
// backend's score scale. Sorted by Score desc with a stable sort over
// rank-ordered input, so equal scores keep the semantic branch's
// original ranking.
func Fuse(semantic []vectorstore.Hit, lex []lexical.Hit, weights Weights) []Result {
	if len(semantic) == 0 && len(lex) == 0 {
		return []Result{}
	}

	// Results are appended in semantic rank order, then lexical-only
	// hits in lexical rank order; the stable sort below preserves that
	// order on score ties.
	results := make([]Result, 0, len(semantic)+len(lex))
	byID := make(map[string]int, len(semantic)+len(lex))

	var semMax float64
	for _, h := range semantic {
		if s := float64(h.Score); s > semMax {
			semMax = s
		}
	}
	for _, h := range semantic {
		norm := 0.0
		if semMax > 0 {
			norm = float64(h.Score) / semMax
		}
		byID[h.ID] = len(results)
		results = append(results, Result{
			ID:            h.ID,
			SourcePath:    h.SourcePath,
			ChunkIndex:    h.ChunkIndex,
			Content:       h.Content,
			SemanticScore: norm,
			Score:         weights.Semantic * norm,
		})
	}

	var lexMax float64
	for _, h := range lex {
		if h.Score > lexMax {
			lexMax = h.Score
		}
	}
	for _, h := range lex {
		norm := 0.0
		if lexMax > 0 {
			norm = h.Score / lexMax
		}
		if i, ok := byID[h.ID]; ok {
			results[i].LexicalScore = norm
			results[i].Score += weights.Lexical * norm
			results[i].InBoth = true
			continue
		}
		byID[h.ID] = len(results)
		results = append(results, Result{
			ID:           h.ID,
			SourcePath:   h.SourcePath,
			ChunkIndex:   h.ChunkIndex,
			Content:      h.Content,
			LexicalScore: norm,
			Score:        weights.Lexical * norm,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}
