package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("corpusd.vectorstore.chromem")

// userIDSeparator joins authorized user IDs inside chromem metadata, which
// only holds string values. A user ID containing the separator would merge
// into its neighbors on the way back out, so Upsert rejects such IDs.
const userIDSeparator = ","

// ChromemConfig holds configuration for the chromem-go embedded backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.local/share/corpusd/vectorstore"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/corpusd/vectorstore"
	}
}

// ChromemStore implements Store with chromem-go, an embeddable pure-Go
// vector database. It needs no external service, which makes it the backend
// for local development and single-node deployments.
//
// chromem has no server-side dimension enforcement, so each index's
// dimension is tracked in a sidecar file next to the gob data and checked
// in EnsureIndex.
type ChromemStore struct {
	db   *chromem.DB
	path string

	mu         sync.Mutex
	dimensions map[string]int
}

// NewChromemStore creates a ChromemStore with persistent storage.
func NewChromemStore(config ChromemConfig) (*ChromemStore, error) {
	config.ApplyDefaults()

	expandedPath, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}

	if err := os.MkdirAll(expandedPath, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expandedPath, err)
	}

	db, err := chromem.NewPersistentDB(expandedPath, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("%w: opening chromem DB: %v", ErrConnectionFailed, err)
	}

	store := &ChromemStore{
		db:   db,
		path: expandedPath,
	}
	if err := store.loadDimensions(); err != nil {
		return nil, err
	}
	return store, nil
}

// expandChromemPath expands ~ to home directory.
func expandChromemPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) dimensionsFile() string {
	return filepath.Join(s.path, "dimensions.json")
}

func (s *ChromemStore) loadDimensions() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dimensions = map[string]int{}
	data, err := os.ReadFile(s.dimensionsFile())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading dimension registry: %w", err)
	}
	if err := json.Unmarshal(data, &s.dimensions); err != nil {
		return fmt.Errorf("parsing dimension registry: %w", err)
	}
	return nil
}

// saveDimensionsLocked writes the dimension registry. Caller holds s.mu.
func (s *ChromemStore) saveDimensionsLocked() error {
	data, err := json.MarshalIndent(s.dimensions, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding dimension registry: %w", err)
	}
	if err := os.WriteFile(s.dimensionsFile(), data, 0o644); err != nil {
		return fmt.Errorf("writing dimension registry: %w", err)
	}
	return nil
}

// noEmbedding is the chromem embedding callback. Records always arrive with
// precomputed vectors, so chromem should never need to embed on its own.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("store does not embed; records carry vectors")
}

func (s *ChromemStore) collection(index string) (*chromem.Collection, error) {
	coll, err := s.db.GetOrCreateCollection(index, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", index, err)
	}
	return coll, nil
}

// EnsureIndex creates the index if missing and verifies its dimension
// against the sidecar registry.
func (s *ChromemStore) EnsureIndex(ctx context.Context, name string, dimension int) error {
	_, span := chromemTracer.Start(ctx, "ChromemStore.EnsureIndex")
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

	if _, err := s.collection(name); err != nil {
		span.RecordError(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.dimensions[name]; ok {
		if existing != dimension {
			err := fmt.Errorf("%w: index %s has dimension %d, embedder produces %d",
				ErrDimensionMismatch, name, existing, dimension)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		return nil
	}

	s.dimensions[name] = dimension
	if err := s.saveDimensionsLocked(); err != nil {
		delete(s.dimensions, name)
		span.RecordError(err)
		return err
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Upsert writes records. chromem's AddDocuments rejects duplicate IDs, so
// existing records are deleted first.
func (s *ChromemStore) Upsert(ctx context.Context, index string, records []Record) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
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

	coll, err := s.collection(index)
	if err != nil {
		span.RecordError(err)
		return err
	}

	docs := make([]chromem.Document, len(records))
	ids := make([]string, len(records))
	for i, rec := range records {
		for _, userID := range rec.Payload.AuthorizedUserIDs {
			if strings.Contains(userID, userIDSeparator) {
				err := fmt.Errorf("%w: %q contains %q, which delimits the stored user list",
					ErrInvalidUserID, userID, userIDSeparator)
				span.RecordError(err)
				return err
			}
		}
		ids[i] = rec.ID
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Payload.Text,
			Metadata:  payloadToMetadata(rec.Payload),
			Embedding: rec.Vector,
		}
	}

	if err := coll.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: replacing records in %s: %v", ErrWriteFailed, index, err)
	}

	if err := coll.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: adding %d records to %s: %v", ErrWriteFailed, len(docs), index, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Fetch returns existing records for the given IDs, keyed by ID.
func (s *ChromemStore) Fetch(ctx context.Context, index string, ids []string) (map[string]Record, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Fetch")
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

	coll, err := s.collection(index)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	records := make(map[string]Record, len(ids))
	for _, id := range ids {
		doc, err := coll.GetByID(ctx, id)
		if err != nil {
			// chromem returns an error for unknown IDs; absence is not a
			// failure for Fetch.
			continue
		}
		records[id] = Record{
			ID:      doc.ID,
			Vector:  doc.Embedding,
			Payload: payloadFromMetadata(doc.Content, doc.Metadata),
		}
	}

	span.SetAttributes(attribute.Int("found", len(records)))
	span.SetStatus(codes.Ok, "success")
	return records, nil
}

// Delete removes records by ID. Deleting a missing ID is not an error.
func (s *ChromemStore) Delete(ctx context.Context, index string, ids []string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
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

	coll, err := s.collection(index)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := coll.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: deleting %d records from %s: %v", ErrWriteFailed, len(ids), index, err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query performs filtered similarity search.
//
// chromem metadata filters are exact-match only, and authorized_user_ids is
// a joined list, so membership filtering happens here after the similarity
// pass.
func (s *ChromemStore) Query(ctx context.Context, index string, vector []float32, filter Filter, topK int) ([]ScoredRecord, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
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

	coll, err := s.collection(index)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	count := coll.Count()
	if count == 0 {
		return nil, nil
	}

	// Over-fetch so post-filtering can still fill topK.
	n := count
	if filter.IsZero() && topK < n {
		n = topK
	}

	var where map[string]string
	if filter.ContentHash != "" {
		where = map[string]string{"content_hash": filter.ContentHash}
	}

	hits, err := coll.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", index, err)
	}

	results := make([]ScoredRecord, 0, topK)
	for _, hit := range hits {
		payload := payloadFromMetadata(hit.Content, hit.Metadata)
		if filter.AuthorizedUserID != "" && !payload.HasUser(filter.AuthorizedUserID) {
			continue
		}
		results = append(results, ScoredRecord{
			Record: Record{
				ID:      hit.ID,
				Vector:  hit.Embedding,
				Payload: payload,
			},
			Score: hit.Similarity,
		})
		if len(results) == topK {
			break
		}
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "success")
	return results, nil
}

// Close is a no-op: chromem persists synchronously on every write.
func (s *ChromemStore) Close() error {
	return nil
}

// payloadToMetadata flattens a Payload into chromem string metadata.
func payloadToMetadata(p Payload) map[string]string {
	return map[string]string{
		"content_hash":        p.ContentHash,
		"title":               p.Title,
		"source_url":          p.SourceURL,
		"indexed_at":          p.IndexedAt.UTC().Format(time.RFC3339),
		"authorized_user_ids": strings.Join(p.AuthorizedUserIDs, userIDSeparator),
	}
}

// payloadFromMetadata rebuilds a Payload from chromem metadata.
func payloadFromMetadata(content string, m map[string]string) Payload {
	p := Payload{
		ContentHash: m["content_hash"],
		Text:        content,
		Title:       m["title"],
		SourceURL:   m["source_url"],
	}
	if ts := m["indexed_at"]; ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			p.IndexedAt = parsed
		}
	}
	if joined := m["authorized_user_ids"]; joined != "" {
		p.AuthorizedUserIDs = strings.Split(joined, userIDSeparator)
	}
	return p
}
