package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
)

// State is the terminal disposition of one generation request.
type State int

const (
	StateCompleted State = iota
	StateBlocked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateBlocked:
		return "blocked"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// BlockedMessage replaces output that failed the safety screen.
const BlockedMessage = "The response was withheld because it appeared to contain sensitive information. Please rephrase your question."

// systemInstructions anchor every prompt.
const systemInstructions = "You are a corpus question answering assistant. Answer using only the provided context. When the context does not contain the answer, say so plainly. Cite the source paths you relied on."

// Attempt records which provider produced (or tried to produce) the answer.
type Attempt struct {
	ProviderLabel string    `json:"provider"`
	ModelID       string    `json:"model"`
	StartedAt     time.Time `json:"started_at"`
}

// Result is the outcome of one orchestrated generation.
type Result struct {
	State   State
	Text    string
	Attempt Attempt
}

// PromptRequest is an orchestrator-level request.
type PromptRequest struct {
	SessionID string
	Query     string

	// Context is the sanitized retrieved context.
	Context string

	// History is the prior conversation, oldest first.
	History []Message
}

// Orchestrator drives generation across a primary and optional fallback
// provider.
//
// The primary's output is buffered before anything is forwarded; an empty
// completion counts as a failure and triggers the fallback, whose output
// streams live. A rate-limited primary puts the orchestrator in cool-down,
// during which the provider preference swaps. The fallback is attempted at
// most once per request.
type Orchestrator struct {
	primary  Provider
	fallback Provider
	screen   *Screen
	logger   *logging.Logger

	// cooldownUntil is a unix-nano deadline; zero means no cool-down.
	cooldownUntil atomic.Int64
	cooldown      time.Duration

	maxTokens     int
	summaryEveryN int

	mu        sync.Mutex
	summaries map[string]string
	turnCount map[string]int
}

// NewOrchestrator creates an orchestrator. fallback may be nil.
func NewOrchestrator(cfg config.GenerationConfig, primary, fallback Provider, logger *logging.Logger) (*Orchestrator, error) {
	if primary == nil {
		return nil, fmt.Errorf("%w: primary provider required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	cooldown := time.Duration(cfg.RateLimitCooldown)
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &Orchestrator{
		primary:       primary,
		fallback:      fallback,
		screen:        NewScreen(),
		logger:        logger,
		cooldown:      cooldown,
		maxTokens:     maxTokens,
		summaryEveryN: cfg.SummaryEveryN,
		summaries:     make(map[string]string),
		turnCount:     make(map[string]int),
	}, nil
}

// Generate produces an answer for the request, forwarding text deltas to
// onDelta. On StateFailed the error describes the underlying cause.
func (o *Orchestrator) Generate(ctx context.Context, req PromptRequest, onDelta func(string)) (*Result, error) {
	provReq := o.buildRequest(req)

	first, second := o.primary, o.fallback
	if o.inCooldown() && o.fallback != nil {
		first, second = o.fallback, o.primary
	}

	// First attempt is buffered: nothing is forwarded until the full
	// completion passes the pre-flight and safety checks.
	attempt := Attempt{ProviderLabel: first.Label(), ModelID: first.Model(), StartedAt: time.Now()}
	start := time.Now()
	completion, err := first.StreamGenerate(ctx, provReq, nil)
	if err == nil && strings.TrimSpace(completion.Text) == "" {
		err = ErrEmptyCompletion
	}

	if err == nil {
		recordAttempt(first.Label(), "success", time.Since(start))
		return o.finish(ctx, req, attempt, completion.Text, onDelta, true)
	}

	recordAttempt(first.Label(), outcomeFor(err), time.Since(start))
	if IsRateLimit(err) && first == o.primary {
		o.enterCooldown(err)
	}
	o.logger.Warn(ctx, "generation attempt failed",
		zap.String("provider", first.Label()),
		zap.Error(err),
	)

	if second == nil {
		return &Result{State: StateFailed, Attempt: attempt}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, err)
	}

	// Fallback streams live.
	attempt = Attempt{ProviderLabel: second.Label(), ModelID: second.Model(), StartedAt: time.Now()}
	start = time.Now()
	completion, fbErr := second.StreamGenerate(ctx, provReq, onDelta)
	if fbErr == nil && strings.TrimSpace(completion.Text) == "" {
		fbErr = ErrEmptyCompletion
	}
	if fbErr != nil {
		recordAttempt(second.Label(), outcomeFor(fbErr), time.Since(start))
		o.logger.Error(ctx, "fallback generation failed",
			zap.String("provider", second.Label()),
			zap.Error(fbErr),
		)
		return &Result{State: StateFailed, Attempt: attempt}, fmt.Errorf("%w: primary: %w; fallback: %w", ErrAllProvidersFailed, err, fbErr)
	}

	recordAttempt(second.Label(), "success", time.Since(start))
	return o.finish(ctx, req, attempt, completion.Text, onDelta, false)
}

// finish screens the completed text and settles the terminal state.
// forward controls whether the text still needs to reach onDelta (the
// buffered first attempt) or has already streamed.
func (o *Orchestrator) finish(ctx context.Context, req PromptRequest, attempt Attempt, text string, onDelta func(string), forward bool) (*Result, error) {
	if o.screen.Check(text) {
		blockedTotal.Inc()
		o.logger.Warn(ctx, "generation output blocked by safety screen",
			zap.String("provider", attempt.ProviderLabel),
			zap.String("session_id", req.SessionID),
		)
		if forward && onDelta != nil {
			onDelta(BlockedMessage)
		}
		return &Result{State: StateBlocked, Text: BlockedMessage, Attempt: attempt}, nil
	}

	if forward && onDelta != nil {
		onDelta(text)
	}

	o.bumpTurn(req, text)
	return &Result{State: StateCompleted, Text: text, Attempt: attempt}, nil
}

func (o *Orchestrator) buildRequest(req PromptRequest) Request {
	var system strings.Builder
	system.WriteString(systemInstructions)

	if summary := o.summaryFor(req.SessionID); summary != "" {
		system.WriteString("\n\nConversation summary:\n")
		system.WriteString(summary)
	}

	if req.Context != "" {
		system.WriteString("\n\nContext:\n")
		system.WriteString(req.Context)
	}

	messages := make([]Message, 0, len(req.History)+1)
	messages = append(messages, req.History...)
	messages = append(messages, Message{Role: "user", Content: req.Query})

	return Request{
		System:    system.String(),
		Messages:  messages,
		MaxTokens: o.maxTokens,
	}
}

func (o *Orchestrator) enterCooldown(err error) {
	until := time.Now().Add(o.cooldown)
	var rle *RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > o.cooldown {
		until = time.Now().Add(rle.RetryAfter)
	}
	o.cooldownUntil.Store(until.UnixNano())
	cooldownsTotal.Inc()
}

func (o *Orchestrator) inCooldown() bool {
	return time.Now().UnixNano() < o.cooldownUntil.Load()
}

func (o *Orchestrator) summaryFor(sessionID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summaries[sessionID]
}

// bumpTurn counts completed turns and kicks off a summary refresh every
// N turns. The refresh is best-effort: it runs detached and its failure
// only logs.
func (o *Orchestrator) bumpTurn(req PromptRequest, answer string) {
	if o.summaryEveryN <= 0 || req.SessionID == "" {
		return
	}

	o.mu.Lock()
	o.turnCount[req.SessionID]++
	due := o.turnCount[req.SessionID]%o.summaryEveryN == 0
	o.mu.Unlock()

	if !due {
		return
	}

	history := make([]Message, 0, len(req.History)+2)
	history = append(history, req.History...)
	history = append(history, Message{Role: "user", Content: req.Query})
	history = append(history, Message{Role: "assistant", Content: answer})

	go o.refreshSummary(req.SessionID, history)
}

func (o *Orchestrator) refreshSummary(sessionID string, history []Message) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(context.Background(), "summary refresh panicked",
				zap.Any("panic", r),
				zap.String("session_id", sessionID),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	provider := o.primary
	if o.inCooldown() && o.fallback != nil {
		provider = o.fallback
	}

	completion, err := provider.StreamGenerate(ctx, Request{
		System:    "Summarize the conversation below in under 150 words, preserving facts, open questions, and cited sources.",
		Messages:  append(history, Message{Role: "user", Content: "Summarize our conversation so far."}),
		MaxTokens: 512,
	}, nil)
	if err != nil {
		o.logger.Warn(ctx, "summary refresh failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}

	o.mu.Lock()
	o.summaries[sessionID] = strings.TrimSpace(completion.Text)
	o.mu.Unlock()
}

func outcomeFor(err error) string {
	switch {
	case IsRateLimit(err):
		return "rate_limited"
	case errors.Is(err, ErrEmptyCompletion):
		return "empty"
	default:
		return "error"
	}
}
