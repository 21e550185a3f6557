package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and as a reference
// implementation of the interface contract.
type MemoryStore struct {
	mu         sync.RWMutex
	indexes    map[string]map[string]Record
	dimensions map[string]int

	// FailUpsertIDs makes Upsert fail whenever the batch contains one of
	// these IDs. Used to exercise write retry splitting.
	FailUpsertIDs map[string]bool

	// UpsertCalls counts Upsert invocations, including failed ones.
	UpsertCalls int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		indexes:    map[string]map[string]Record{},
		dimensions: map[string]int{},
	}
}

// EnsureIndex creates the index if missing and verifies its dimension.
func (s *MemoryStore) EnsureIndex(_ context.Context, name string, dimension int) error {
	if err := ValidateIndexName(name); err != nil {
		return err
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.dimensions[name]; ok {
		if existing != dimension {
			return fmt.Errorf("%w: index %s has dimension %d, embedder produces %d",
				ErrDimensionMismatch, name, existing, dimension)
		}
		return nil
	}
	s.dimensions[name] = dimension
	s.indexes[name] = map[string]Record{}
	return nil
}

// Upsert writes records, replacing any with the same ID.
func (s *MemoryStore) Upsert(_ context.Context, index string, records []Record) error {
	if len(records) == 0 {
		return ErrEmptyRecords
	}
	if err := ValidateIndexName(index); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.UpsertCalls++
	for _, rec := range records {
		if s.FailUpsertIDs[rec.ID] {
			return fmt.Errorf("%w: record %s rejected", ErrWriteFailed, rec.ID)
		}
	}

	idx, ok := s.indexes[index]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}
	for _, rec := range records {
		idx[rec.ID] = cloneRecord(rec)
	}
	return nil
}

// Fetch returns existing records keyed by ID. Missing IDs are absent.
func (s *MemoryStore) Fetch(_ context.Context, index string, ids []string) (map[string]Record, error) {
	if err := ValidateIndexName(index); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[index]
	if !ok {
		return map[string]Record{}, nil
	}
	records := make(map[string]Record, len(ids))
	for _, id := range ids {
		if rec, ok := idx[id]; ok {
			records[id] = cloneRecord(rec)
		}
	}
	return records, nil
}

// Delete removes records by ID. Missing IDs are ignored.
func (s *MemoryStore) Delete(_ context.Context, index string, ids []string) error {
	if err := ValidateIndexName(index); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.indexes[index]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(idx, id)
	}
	return nil
}

// Query returns records ordered by cosine similarity to the query vector.
func (s *MemoryStore) Query(_ context.Context, index string, vector []float32, filter Filter, topK int) ([]ScoredRecord, error) {
	if err := ValidateIndexName(index); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", ErrInvalidConfig)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.indexes[index]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, index)
	}

	var results []ScoredRecord
	for _, rec := range idx {
		if filter.AuthorizedUserID != "" && !rec.Payload.HasUser(filter.AuthorizedUserID) {
			continue
		}
		if filter.ContentHash != "" && rec.Payload.ContentHash != filter.ContentHash {
			continue
		}
		results = append(results, ScoredRecord{
			Record: cloneRecord(rec),
			Score:  cosineSimilarity(vector, rec.Vector),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// Len returns the number of records in an index.
func (s *MemoryStore) Len(index string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.indexes[index])
}

// cloneRecord deep-copies a record so callers cannot alias internal state.
func cloneRecord(rec Record) Record {
	out := rec
	out.Vector = append([]float32(nil), rec.Vector...)
	out.Payload.AuthorizedUserIDs = append([]string(nil), rec.Payload.AuthorizedUserIDs...)
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
