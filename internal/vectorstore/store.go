// Package vectorstore defines the interface for vector storage operations
// and its Qdrant, chromem and in-memory implementations.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"
)

// Sentinel errors for vector store operations.
var (
	// ErrIndexNotFound is returned when an org index does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrDimensionMismatch is returned when an index's configured vector
	// dimension differs from the embedding provider's output dimension.
	// This is a fatal configuration error: no subsequent write can succeed,
	// so callers abort the whole run.
	ErrDimensionMismatch = errors.New("index dimension mismatch")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid vector store configuration")

	// ErrInvalidIndexName indicates index name validation failure.
	ErrInvalidIndexName = errors.New("invalid index name")

	// ErrEmptyRecords indicates empty or nil records.
	ErrEmptyRecords = errors.New("empty or nil records")

	// ErrInvalidUserID indicates a user ID a backend cannot store faithfully.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrConnectionFailed indicates transport-level connection issues.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrWriteFailed indicates a write that did not succeed after retries.
	ErrWriteFailed = errors.New("vector store write failed")
)

// indexNamePattern validates index names.
// Pattern: lowercase letters, numbers, hyphens, 1-64 characters.
var indexNamePattern = regexp.MustCompile(`^[a-z0-9-]{1,64}$`)

// ValidateIndexName validates an index name against the store's naming rules.
func ValidateIndexName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: index name cannot be empty", ErrInvalidIndexName)
	}
	if !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: index name must match ^[a-z0-9-]{1,64}$, got %q", ErrInvalidIndexName, name)
	}
	return nil
}

// Payload is the metadata stored alongside a vector.
//
// AuthorizedUserIDs is the mutable visibility set: the users who currently
// have access to at least one source document containing this content. The
// access synchronizer exclusively owns mutations of this set; a record whose
// set would become empty is deleted instead of written.
type Payload struct {
	ContentHash       string    `json:"content_hash"`
	Text              string    `json:"text"`
	Title             string    `json:"title"`
	SourceURL         string    `json:"source_url"`
	IndexedAt         time.Time `json:"indexed_at"`
	AuthorizedUserIDs []string  `json:"authorized_user_ids"`
}

// HasUser reports whether userID is in the authorized set.
func (p *Payload) HasUser(userID string) bool {
	return slices.Contains(p.AuthorizedUserIDs, userID)
}

// AddUser adds userID to the authorized set. Returns true if the set
// changed. The set stays sorted so stored payloads are deterministic.
func (p *Payload) AddUser(userID string) bool {
	if p.HasUser(userID) {
		return false
	}
	p.AuthorizedUserIDs = append(p.AuthorizedUserIDs, userID)
	slices.Sort(p.AuthorizedUserIDs)
	return true
}

// RemoveUser removes userID from the authorized set. Returns true if the
// set changed.
func (p *Payload) RemoveUser(userID string) bool {
	before := len(p.AuthorizedUserIDs)
	p.AuthorizedUserIDs = slices.DeleteFunc(p.AuthorizedUserIDs, func(id string) bool {
		return id == userID
	})
	return len(p.AuthorizedUserIDs) != before
}

// Record is the unit of durable state in the vector store, keyed by a
// deterministic ID derived from (index name, content hash).
type Record struct {
	// ID is the deterministic record identifier (UUIDv5).
	ID string

	// Vector is the embedding. Its dimension is fixed per index.
	Vector []float32

	// Payload is the record metadata.
	Payload Payload
}

// ScoredRecord is a Record with a similarity score from a query.
type ScoredRecord struct {
	Record

	// Score is the similarity score (higher is more similar).
	Score float32
}

// Filter narrows query results by payload fields. Zero fields are ignored.
type Filter struct {
	// AuthorizedUserID matches records whose authorized set contains the user.
	AuthorizedUserID string

	// ContentHash matches records with the given content hash.
	ContentHash string
}

// IsZero reports whether the filter has no conditions.
func (f Filter) IsZero() bool {
	return f == Filter{}
}

// Store is the interface for vector storage operations.
//
// Implementations are transport-agnostic. One index per organization and
// datasource holds all of that org's vectors; tenant separation is
// structural (separate indexes), not filter-based.
//
// Implementations:
//   - QdrantStore: external Qdrant over gRPC
//   - ChromemStore: embedded chromem-go (local runs)
//   - MemoryStore: in-memory (tests)
type Store interface {
	// EnsureIndex creates the index if missing and verifies its vector
	// dimension. Returns ErrDimensionMismatch when the index exists with a
	// different dimension; the caller must treat that as fatal.
	EnsureIndex(ctx context.Context, name string, dimension int) error

	// Upsert writes records, replacing any existing record with the same ID.
	Upsert(ctx context.Context, index string, records []Record) error

	// Fetch returns the existing records for the given IDs, keyed by ID.
	// Missing IDs are simply absent from the result; that is how callers
	// distinguish create from merge.
	Fetch(ctx context.Context, index string, ids []string) (map[string]Record, error)

	// Delete removes records by ID. Deleting a missing ID is not an error.
	Delete(ctx context.Context, index string, ids []string) error

	// Query performs similarity search, optionally filtered by payload
	// fields. Used by external retrieval collaborators; the indexing core
	// itself never queries by similarity.
	Query(ctx context.Context, index string, vector []float32, filter Filter, topK int) ([]ScoredRecord, error)

	// Close releases resources held by the store.
	Close() error
}
