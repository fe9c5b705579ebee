// Package http provides the HTTP API for corpusd.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/qa"
	"github.com/fyrsmithlabs/corpusd/internal/search"
)

// Asker answers questions, streaming deltas to the sink.
type Asker interface {
	Ask(ctx context.Context, req qa.Request, sink qa.Sink) (*qa.Answer, error)
}

// Ingester indexes source documents.
type Ingester interface {
	Ingest(ctx context.Context, sourcePath, text string) (int, error)
}

// Server provides the corpusd HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	asker    Asker
	ingester Ingester
	logger   *logging.Logger
	config   config.ServerConfig
}

// NewServer creates the HTTP server with its routes registered.
func NewServer(cfg config.ServerConfig, asker Asker, ingester Ingester, logger *logging.Logger) (*Server, error) {
	if asker == nil {
		return nil, fmt.Errorf("asker is required")
	}
	if ingester == nil {
		return nil, fmt.Errorf("ingester is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			logger.Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:     e,
		asker:    asker,
		ingester: ingester,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/ask", s.handleAsk)
	v1.POST("/ingest", s.handleIngest)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// IngestRequest is the request body for POST /api/v1/ingest.
type IngestRequest struct {
	SourcePath string `json:"source_path"`
	Text       string `json:"text"`
}

// IngestResponse is the response body for POST /api/v1/ingest.
type IngestResponse struct {
	SourcePath string `json:"source_path"`
	Chunks     int    `json:"chunks"`
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SourcePath == "" || req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source_path and text are required")
	}

	count, err := s.ingester.Ingest(c.Request().Context(), req.SourcePath, req.Text)
	if err != nil {
		s.logger.Error(c.Request().Context(), "ingest failed",
			zap.String("source_path", req.SourcePath),
			zap.Error(err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "ingest failed")
	}

	return c.JSON(http.StatusOK, IngestResponse{SourcePath: req.SourcePath, Chunks: count})
}

// askEvent is one SSE event on the ask stream.
type askEvent struct {
	Delta string `json:"delta,omitempty"`
}

// handleAsk streams the answer over SSE: one "delta" event per text
// delta, then a single "answer" event with the final state, citations,
// and attempt metadata. A closed client connection cancels the request
// context, which propagates to retrieval and generation.
func (s *Server) handleAsk(c echo.Context) error {
	var req qa.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := c.Request().Context()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")

	headerWritten := false
	sink := func(delta string) {
		if !headerWritten {
			resp.WriteHeader(http.StatusOK)
			headerWritten = true
		}
		writeSSE(resp, "delta", askEvent{Delta: delta})
		resp.Flush()
	}

	answer, err := s.asker.Ask(ctx, req, sink)
	if err != nil {
		if errors.Is(err, qa.ErrMalformedRequest) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if errors.Is(err, search.ErrRetrievalUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "retrieval unavailable")
		}
		if headerWritten {
			// Stream already started; the missing final event tells the
			// client the answer did not complete.
			s.logger.Error(ctx, "ask failed mid-stream", zap.Error(err))
			return nil
		}
		s.logger.Error(ctx, "ask failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "generation failed")
	}

	if !headerWritten {
		resp.WriteHeader(http.StatusOK)
	}
	writeSSE(resp, "answer", answer)
	resp.Flush()
	return nil
}

func writeSSE(resp *echo.Response, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
