package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Tracer for OpenTelemetry instrumentation.
var qdrantTracer = otel.Tracer("corpusd.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	// Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// UseTLS enables TLS encryption for the gRPC connection.
	UseTLS bool

	// MaxRetries is the maximum number of retry attempts for transient
	// failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff duration for retries.
	// Doubles on each retry. Default: 1 second
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes.
	// Default: 50MB
	MaxMessageSize int

	// CircuitBreakerThreshold is the number of failures before opening the
	// circuit. Default: 5
	CircuitBreakerThreshold int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// IsTransientError checks if an error is transient (should retry).
// Returns true for network timeouts and temporary unavailability, false for
// invalid arguments, not found, permission denied.
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

// QdrantStore is a Store implementation using Qdrant's native gRPC client.
//
// gRPC transport (port 6334) avoids the HTTP layer's payload limits during
// bulk indexing and gives binary protobuf encoding throughout.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig

	// indexes caches verified index names to avoid repeated existence and
	// dimension checks.
	indexes sync.Map

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore creates a QdrantStore and verifies connectivity with a
// health check.
func NewQdrantStore(config QdrantConfig) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{
		client: client,
		config: config,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
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

// retryOperation retries an operation with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
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

		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
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

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Allow retry after 30 seconds
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// EnsureIndex creates the index if missing and verifies its dimension.
func (s *QdrantStore) EnsureIndex(ctx context.Context, name string, dimension int) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.EnsureIndex")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", name),
		attribute.Int("dimension", dimension),
	)

	if err := ValidateIndexName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	if _, ok := s.indexes.Load(name); ok {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("checking index %s: %w", name, err)
	}

	if !exists {
		err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating index %s: %w", name, err)
		}
		s.indexes.Store(name, true)
		span.SetStatus(codes.Ok, "created")
		return nil
	}

	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("describing index %s: %w", name, err)
	}
	existing := int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize())
	if existing != dimension {
		err := fmt.Errorf("%w: index %s has dimension %d, embedder produces %d",
			ErrDimensionMismatch, name, existing, dimension)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	s.indexes.Store(name, true)
	span.SetStatus(codes.Ok, "verified")
	return nil
}

// Upsert writes records with write-visibility waiting enabled, so a fetch
// issued after Upsert returns observes the written state.
func (s *QdrantStore) Upsert(ctx context.Context, index string, records []Record) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", index),
		attribute.Int("record_count", len(records)),
	)

	if len(records) == 0 {
		return ErrEmptyRecords
	}
	if err := ValidateIndexName(index); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: payloadToQdrant(rec.Payload),
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: index,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: upserting %d points to %s: %v", ErrWriteFailed, len(points), index, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Fetch returns existing records for the given IDs, keyed by ID.
func (s *QdrantStore) Fetch(ctx context.Context, index string, ids []string) (map[string]Record, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Fetch")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", index),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateIndexName(index); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]Record{}, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	var points []*qdrant.RetrievedPoint
	err := s.retryOperation(ctx, "fetch", func() error {
		var err error
		points, err = s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: index,
			Ids:            pointIDs,
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("fetching %d points from %s: %w", len(ids), index, err)
	}

	records := make(map[string]Record, len(points))
	for _, p := range points {
		rec := Record{
			ID:      p.GetId().GetUuid(),
			Vector:  p.GetVectors().GetVector().GetData(),
			Payload: payloadFromQdrant(p.GetPayload()),
		}
		records[rec.ID] = rec
	}

	span.SetAttributes(attribute.Int("found", len(records)))
	span.SetStatus(codes.Ok, "success")
	return records, nil
}

// Delete removes records by ID.
func (s *QdrantStore) Delete(ctx context.Context, index string, ids []string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", index),
		attribute.Int("id_count", len(ids)),
	)

	if err := ValidateIndexName(index); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	err := s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: index,
			Points:         qdrant.NewPointsSelector(pointIDs...),
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting %d points from %s: %v", ErrWriteFailed, len(ids), index, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query performs filtered similarity search.
func (s *QdrantStore) Query(ctx context.Context, index string, vector []float32, filter Filter, topK int) ([]ScoredRecord, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", index),
		attribute.Int("top_k", topK),
	)

	if err := ValidateIndexName(index); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", ErrInvalidConfig)
	}

	var qf *qdrant.Filter
	if !filter.IsZero() {
		var conditions []*qdrant.Condition
		if filter.AuthorizedUserID != "" {
			conditions = append(conditions, qdrant.NewMatch("authorized_user_ids", filter.AuthorizedUserID))
		}
		if filter.ContentHash != "" {
			conditions = append(conditions, qdrant.NewMatch("content_hash", filter.ContentHash))
		}
		qf = &qdrant.Filter{Must: conditions}
	}

	var points []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "query", func() error {
		var err error
		points, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: index,
			Query:          qdrant.NewQuery(vector...),
			Filter:         qf,
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", index, err)
	}

	results := make([]ScoredRecord, len(points))
	for i, p := range points {
		results[i] = ScoredRecord{
			Record: Record{
				ID:      p.GetId().GetUuid(),
				Payload: payloadFromQdrant(p.GetPayload()),
			},
			Score: p.GetScore(),
		}
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// payloadToQdrant converts a Payload into a Qdrant payload map.
func payloadToQdrant(p Payload) map[string]*qdrant.Value {
	users := make([]*qdrant.Value, len(p.AuthorizedUserIDs))
	for i, id := range p.AuthorizedUserIDs {
		users[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: id}}
	}

	return map[string]*qdrant.Value{
		"content_hash": {Kind: &qdrant.Value_StringValue{StringValue: p.ContentHash}},
		"text":         {Kind: &qdrant.Value_StringValue{StringValue: p.Text}},
		"title":        {Kind: &qdrant.Value_StringValue{StringValue: p.Title}},
		"source_url":   {Kind: &qdrant.Value_StringValue{StringValue: p.SourceURL}},
		"indexed_at":   {Kind: &qdrant.Value_StringValue{StringValue: p.IndexedAt.UTC().Format(time.RFC3339)}},
		"authorized_user_ids": {Kind: &qdrant.Value_ListValue{
			ListValue: &qdrant.ListValue{Values: users},
		}},
	}
}

// payloadFromQdrant converts a Qdrant payload map back into a Payload.
func payloadFromQdrant(m map[string]*qdrant.Value) Payload {
	p := Payload{
		ContentHash: m["content_hash"].GetStringValue(),
		Text:        m["text"].GetStringValue(),
		Title:       m["title"].GetStringValue(),
		SourceURL:   m["source_url"].GetStringValue(),
	}
	if ts := m["indexed_at"].GetStringValue(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			p.IndexedAt = parsed
		}
	}
	for _, v := range m["authorized_user_ids"].GetListValue().GetValues() {
		if id := v.GetStringValue(); id != "" {
			p.AuthorizedUserIDs = append(p.AuthorizedUserIDs, id)
		}
	}
	return p
}
