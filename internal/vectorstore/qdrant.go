package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/corpusd/internal/config"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("corpusd.vectorstore.qdrant")

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against security rules.
// Rejects uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts and temporary unavailability.
// Returns false for invalid arguments, not found, permission denied.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}

	st, ok := status.FromError(err)
	if !ok {
		return false
	}

	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

const (
	defaultMaxRetries     = 3
	defaultRetryBackoff   = time.Second
	defaultMaxMessageSize = 50 * 1024 * 1024
	breakerThreshold      = 5
	breakerRecovery       = 30 * time.Second
)

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// The gRPC transport (port 6334) carries binary protobuf and avoids the
// payload limits of Qdrant's HTTP layer, which matters when re-indexing
// large source documents in one batch.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   config.QdrantConfig
	logger   *zap.Logger

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

var _ Store = (*QdrantStore)(nil)

// NewQdrantStore creates a new QdrantStore, connects over gRPC, and
// verifies the connection with a health check. The default collection is
// created if it does not already exist.
func NewQdrantStore(cfg config.QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, cfg.Port)
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(cfg.CollectionName); err != nil {
		return nil, fmt.Errorf("validating collection name: %w", err)
	}

	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, insecure for production")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(defaultMaxMessageSize),
				grpc.MaxCallSendMsgSize(defaultMaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   cfg,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// HealthCheck verifies the Qdrant connection.
func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.HealthCheck")
	defer span.End()

	_, err := s.client.HealthCheck(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}

	span.SetStatus(codes.Ok, "healthy")
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.EnsureCollection")
	defer span.End()

	span.SetAttributes(attribute.String("collection", s.config.CollectionName))

	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		info, err := s.client.GetCollectionInfo(ctx, s.config.CollectionName)
		if err != nil {
			st, ok := status.FromError(err)
			if ok && st.Code() == grpccodes.NotFound {
				exists = false
				return nil
			}
			return err
		}
		exists = info != nil
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking collection %s: %w", s.config.CollectionName, err)
	}
	if exists {
		return nil
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("creating collection %s: %w", s.config.CollectionName, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// retryOperation retries an operation with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := defaultRetryBackoff

	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}

		if s.isCircuitOpen() {
			return fmt.Errorf("%s: circuit breaker open", operationName)
		}

		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()

		if attempt == defaultMaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, defaultMaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= breakerThreshold {
		if time.Since(s.circuitBreaker.lastFail) > breakerRecovery {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// AddChunks embeds and upserts chunks into the default collection.
func (s *QdrantStore) AddChunks(ctx context.Context, chunks []Chunk) error {
	start := time.Now()
	var opErr error
	defer func() {
		recordOperation("qdrant", "add_chunks", time.Since(start), opErr)
	}()

	ctx, span := tracer.Start(ctx, "QdrantStore.AddChunks")
	defer span.End()

	span.SetAttributes(
		attribute.Int("chunk_count", len(chunks)),
		attribute.String("collection", s.config.CollectionName),
	)

	if len(chunks) == 0 {
		opErr = ErrEmptyChunks
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

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		payload := map[string]*qdrant.Value{
			"id":           {Kind: &qdrant.Value_StringValue{StringValue: c.ID}},
			"content":      {Kind: &qdrant.Value_StringValue{StringValue: c.Content}},
			"source_path":  {Kind: &qdrant.Value_StringValue{StringValue: c.SourcePath}},
			"chunk_index":  {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.Index)}},
			"content_hash": {Kind: &qdrant.Value_StringValue{StringValue: c.ContentHash}},
		}

		// Qdrant point IDs must be UUIDs; the chunk ID lives in the payload.
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(c.ID)).String()),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: payload,
		}
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.CollectionName,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		opErr = fmt.Errorf("upserting points to collection %s: %w", s.config.CollectionName, err)
		return opErr
	}

	span.SetAttributes(attribute.Int("points_added", len(points)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search embeds the query and returns the k most similar chunks.
func (s *QdrantStore) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	start := time.Now()
	var opErr error
	defer func() {
		recordOperation("qdrant", "search", time.Since(start), opErr)
	}()

	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.CollectionName),
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

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		opErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, opErr
	}

	var results []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.CollectionName,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		opErr = fmt.Errorf("searching collection %s: %w", s.config.CollectionName, err)
		return nil, opErr
	}

	hits := make([]Hit, len(results))
	for i, point := range results {
		hits[i] = hitFromPayload(point.Payload, point.Score)
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// hitFromPayload converts a Qdrant payload into a Hit.
func hitFromPayload(payload map[string]*qdrant.Value, score float32) Hit {
	hit := Hit{Score: score}
	for key, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			switch key {
			case "id":
				hit.ID = val.StringValue
			case "content":
				hit.Content = val.StringValue
			case "source_path":
				hit.SourcePath = val.StringValue
			}
		case *qdrant.Value_IntegerValue:
			if key == "chunk_index" {
				hit.ChunkIndex = int(val.IntegerValue)
			}
		}
	}
	return hit
}

// DeleteBySource removes every chunk belonging to the given source path.
func (s *QdrantStore) DeleteBySource(ctx context.Context, sourcePath string) error {
	start := time.Now()
	var opErr error
	defer func() {
		recordOperation("qdrant", "delete_by_source", time.Since(start), opErr)
	}()

	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteBySource")
	defer span.End()

	span.SetAttributes(
		attribute.String("collection", s.config.CollectionName),
		attribute.String("source_path", sourcePath),
	)

	if sourcePath == "" {
		opErr = fmt.Errorf("source path cannot be empty")
		return opErr
	}

	err := s.retryOperation(ctx, "delete_by_source", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.CollectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{
							{
								ConditionOneOf: &qdrant.Condition_Field{
									Field: &qdrant.FieldCondition{
										Key: "source_path",
										Match: &qdrant.Match{
											MatchValue: &qdrant.Match_Keyword{Keyword: sourcePath},
										},
									},
								},
							},
						},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		opErr = fmt.Errorf("deleting chunks for %s: %w", sourcePath, err)
		return opErr
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}
