// Package source defines datasource adapters: connectors that list the
// documents a user can access and fetch their raw text.
//
// Adapters see the source system through one user's credentials at a time.
// That is deliberate: the set of documents an adapter returns for a user is
// exactly the access that user's vectors will reflect.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Sentinel errors for source adapters.
var (
	// ErrUnknownSource is returned for a datasource name with no adapter.
	ErrUnknownSource = errors.New("unknown datasource")

	// ErrFetchFailed is returned when a document's content could not be
	// retrieved.
	ErrFetchFailed = errors.New("fetching document content failed")

	// ErrAuthFailed is returned when the user's credentials were rejected
	// by the source system.
	ErrAuthFailed = errors.New("source authentication failed")

	// ErrNotFound is returned when a document does not exist or the user
	// cannot see it.
	ErrNotFound = errors.New("document not found")
)

// Document is one indexable item as seen through a user's access.
type Document struct {
	// ID is the source system's stable document identifier.
	ID string

	// Title is the display name.
	Title string

	// URL points back at the document in the source system.
	URL string

	// MimeType is the source's content type, used to pick a fetch strategy.
	MimeType string

	// ModifiedAt is the source's last-modified timestamp.
	ModifiedAt time.Time
}

// Adapter connects one datasource.
type Adapter interface {
	// Name is the datasource identifier used in index names and run records.
	Name() string

	// ListAccessibleDocuments returns every document userID can read.
	ListAccessibleDocuments(ctx context.Context, userID string) ([]Document, error)

	// FetchContent returns the raw text of one document through userID's
	// access.
	FetchContent(ctx context.Context, userID, documentID string) (string, error)
}

// Registry holds the configured adapters by name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds an adapter. Registering the same name twice replaces the
// earlier adapter.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
}

// Get returns the adapter for a datasource name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return adapter, nil
}

// Names returns the registered datasource names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
