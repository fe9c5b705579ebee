// Package qa wires retrieval, sanitization, and generation into the
// question answering pipeline.
package qa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/generation"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/sanitize"
	"github.com/fyrsmithlabs/corpusd/internal/search"
)

// ErrMalformedRequest indicates a request missing its session or query.
var ErrMalformedRequest = errors.New("malformed request: session_id and query are required")

// Request is one question within a session.
type Request struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

// Citation points at a corpus chunk the answer drew on.
type Citation struct {
	SourcePath string  `json:"source_path"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// Turn is one persisted conversation turn.
type Turn struct {
	SessionID string
	Role      string
	Content   string
	Citations []Citation
}

// Persistence stores completed turns. The service only writes after a
// generation finishes cleanly; partial streams are never persisted.
type Persistence interface {
	SaveTurn(ctx context.Context, turn Turn) error
}

// Sink receives answer text deltas as they are produced.
type Sink func(delta string)

// Answer is the final outcome of one Ask.
type Answer struct {
	Text      string             `json:"text"`
	State     string             `json:"state"`
	Citations []Citation         `json:"citations,omitempty"`
	Attempt   generation.Attempt `json:"attempt"`
}

// Searcher is the retrieval collaborator.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

// Generator is the generation collaborator.
type Generator interface {
	Generate(ctx context.Context, req generation.PromptRequest, onDelta func(string)) (*generation.Result, error)
}

// Service answers questions over the corpus.
type Service struct {
	searcher    Searcher
	sanitizer   *sanitize.Sanitizer
	generator   Generator
	persistence Persistence
	logger      *logging.Logger

	mu      sync.Mutex
	history map[string][]generation.Message
}

// NewService creates the QA service. persistence may be nil.
func NewService(searcher Searcher, generator Generator, persistence Persistence, logger *logging.Logger) (*Service, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &Service{
		searcher:    searcher,
		sanitizer:   sanitize.MustNew(),
		generator:   generator,
		persistence: persistence,
		logger:      logger,
		history:     make(map[string][]generation.Message),
	}, nil
}

// Ask runs the full pipeline for one question: search, sanitize,
// generate, screen, persist. Deltas stream to the sink as the answer is
// produced. Malformed requests fail before any collaborator is invoked.
func (s *Service) Ask(ctx context.Context, req Request, sink Sink) (*Answer, error) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Query) == "" {
		return nil, ErrMalformedRequest
	}

	ctx = logging.WithSessionID(ctx, req.SessionID)

	results, err := s.searcher.Search(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	contextText, report := s.sanitizer.Sanitize(renderContext(results))
	if !report.Clean() {
		s.logger.Warn(ctx, "retrieved context sanitized",
			zap.Int("redactions", report.RedactionCount),
			zap.Bool("injection_detected", report.InjectionDetected),
			zap.Bool("sensitive_source", report.SensitiveSource),
			zap.Bool("oversize", report.Oversize),
		)
	}

	citations := make([]Citation, 0, len(results))
	for _, r := range results {
		citations = append(citations, Citation{
			SourcePath: r.SourcePath,
			ChunkIndex: r.ChunkIndex,
			Score:      r.Score,
		})
	}

	genResult, err := s.generator.Generate(ctx, generation.PromptRequest{
		SessionID: req.SessionID,
		Query:     req.Query,
		Context:   contextText,
		History:   s.historyFor(req.SessionID),
	}, func(delta string) {
		if sink != nil {
			sink(delta)
		}
	})
	if err != nil {
		return &Answer{State: generation.StateFailed.String()}, err
	}

	answer := &Answer{
		Text:    genResult.Text,
		State:   genResult.State.String(),
		Attempt: genResult.Attempt,
	}
	switch genResult.State {
	case generation.StateCompleted:
		answer.Citations = citations
		s.appendHistory(req.SessionID, req.Query, genResult.Text)
		s.persistTurns(ctx, req, genResult.Text, citations)
	case generation.StateBlocked:
		// The original output never reaches persistence; the stored
		// assistant turn carries the fixed warning instead.
		s.persistTurns(ctx, req, generation.BlockedMessage, nil)
	}

	return answer, nil
}

// renderContext formats ranked results for the prompt, labeling each
// chunk with its source so the model can cite it.
func renderContext(results []search.Result) string {
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[source: %s chunk %d]\n%s", r.SourcePath, r.ChunkIndex, r.Content)
	}
	return b.String()
}

func (s *Service) historyFor(sessionID string) []generation.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.history[sessionID]
	out := make([]generation.Message, len(history))
	copy(out, history)
	return out
}

func (s *Service) appendHistory(sessionID, query, answer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[sessionID] = append(s.history[sessionID],
		generation.Message{Role: "user", Content: query},
		generation.Message{Role: "assistant", Content: answer},
	)
}

func (s *Service) persistTurns(ctx context.Context, req Request, answer string, citations []Citation) {
	if s.persistence == nil {
		return
	}

	turns := []Turn{
		{SessionID: req.SessionID, Role: "user", Content: req.Query},
		{SessionID: req.SessionID, Role: "assistant", Content: answer, Citations: citations},
	}
	for _, turn := range turns {
		if err := s.persistence.SaveTurn(ctx, turn); err != nil {
			s.logger.Warn(ctx, "persisting turn failed",
				zap.String("role", turn.Role),
				zap.Error(err),
			)
		}
	}
}
