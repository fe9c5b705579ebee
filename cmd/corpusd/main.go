// Corpusd is a question-answering daemon over a local document corpus.
//
// This binary starts the corpusd HTTP server with full service
// initialization: embeddings, vector store, lexical index, hybrid search,
// the generation orchestrator, and the ingestion pipeline.
//
// Configuration is loaded from ~/.config/corpusd/config.yaml and overridden
// by environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	corpusd
//
//	# Use an alternate config file
//	corpusd -config /etc/corpusd/config.yaml
//
//	# Configure via environment
//	SERVER_PORT=9280 VECTORSTORE_PROVIDER=qdrant corpusd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/corpusd/internal/config"
	"github.com/fyrsmithlabs/corpusd/internal/embeddings"
	"github.com/fyrsmithlabs/corpusd/internal/generation"
	corpushttp "github.com/fyrsmithlabs/corpusd/internal/http"
	"github.com/fyrsmithlabs/corpusd/internal/ingest"
	"github.com/fyrsmithlabs/corpusd/internal/lexical"
	"github.com/fyrsmithlabs/corpusd/internal/logging"
	"github.com/fyrsmithlabs/corpusd/internal/qa"
	"github.com/fyrsmithlabs/corpusd/internal/search"
	"github.com/fyrsmithlabs/corpusd/internal/telemetry"
	"github.com/fyrsmithlabs/corpusd/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/corpusd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  corpusd            Start the corpusd daemon\n")
			fmt.Fprintf(os.Stderr, "  corpusd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("corpusd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the corpusd server and blocks until the context is cancelled.
//
// This function initializes all dependencies and services:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Creates the embedding service and vector store backend
//  4. Builds the lexical index and hybrid search engine
//  5. Wires generation providers into the orchestrator
//  6. Creates the ingestion pipeline (plus the directory watcher if
//     configured)
//  7. Starts the HTTP server
//  8. Performs graceful shutdown on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting corpusd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		Insecure:       cfg.Observability.Insecure,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn(flushCtx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(logger)

	logger.Info(ctx, "dependencies initialized",
		zap.String("embeddings_url", cfg.Embeddings.BaseURL),
		zap.String("embeddings_model", cfg.Embeddings.Model))

	engine := search.NewEngine(cfg.Search, deps.store, deps.lexIndex, logger)

	orchestrator, err := initOrchestrator(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize generation: %w", err)
	}

	pipeline, err := ingest.NewPipeline(cfg.Ingest, deps.store, deps.lexIndex, logger)
	if err != nil {
		return fmt.Errorf("failed to create ingest pipeline: %w", err)
	}

	if cfg.Ingest.WatchDir != "" {
		watcher, err := ingest.NewWatcher(cfg.Ingest.WatchDir, pipeline, logger)
		if err != nil {
			return fmt.Errorf("failed to create directory watcher: %w", err)
		}
		if err := watcher.SyncExisting(ctx); err != nil {
			logger.Warn(ctx, "initial corpus sync failed", zap.Error(err))
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "directory watcher stopped", zap.Error(err))
			}
		}()
		logger.Info(ctx, "watching corpus directory", zap.String("dir", cfg.Ingest.WatchDir))
	}

	qaSvc, err := qa.NewService(engine, orchestrator, nil, logger)
	if err != nil {
		return fmt.Errorf("failed to create qa service: %w", err)
	}

	srv, err := corpushttp.NewServer(cfg.Server, qaSvc, pipeline, logger)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}

	return nil
}

// dependencies holds the retrieval-side infrastructure.
type dependencies struct {
	store    vectorstore.Store
	lexIndex *lexical.Index
}

// Close releases all infrastructure resources.
func (d *dependencies) Close(logger *logging.Logger) {
	if d.lexIndex != nil {
		if err := d.lexIndex.Close(); err != nil {
			logger.Warn(context.Background(), "closing lexical index failed", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			logger.Warn(context.Background(), "closing vector store failed", zap.Error(err))
		}
	}
}

// initDependencies creates the embedding service, the configured vector
// store backend, and the in-memory lexical index.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	embedSvc, err := embeddings.NewService(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	store, err := vectorstore.New(cfg.VectorStore, embedSvc, logger.Underlying())
	if err != nil {
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("vector store health check failed: %w", err)
	}

	lexIndex, err := lexical.NewIndex(logger.Underlying())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create lexical index: %w", err)
	}

	return &dependencies{store: store, lexIndex: lexIndex}, nil
}

// initOrchestrator wires the configured providers. The fallback provider
// is optional; without one, primary failures surface directly.
func initOrchestrator(cfg *config.Config, logger *logging.Logger) (*generation.Orchestrator, error) {
	primary, err := generation.NewProvider(cfg.Generation.Primary)
	if err != nil {
		return nil, fmt.Errorf("failed to create primary provider: %w", err)
	}

	var fallback generation.Provider
	if cfg.Generation.Fallback.Kind != "" {
		fallback, err = generation.NewProvider(cfg.Generation.Fallback)
		if err != nil {
			return nil, fmt.Errorf("failed to create fallback provider: %w", err)
		}
	}

	return generation.NewOrchestrator(cfg.Generation, primary, fallback, logger)
}
