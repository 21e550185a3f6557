package source

import (
	"context"
	"fmt"
	"sync"
)

// StaticAdapter serves fixed per-user document sets. It backs tests and
// local development where no real source system is available.
type StaticAdapter struct {
	name string

	mu      sync.RWMutex
	docs    map[string][]Document          // userID -> documents
	content map[string]map[string]string   // userID -> documentID -> text
}

// NewStaticAdapter creates a StaticAdapter with the given datasource name.
func NewStaticAdapter(name string) *StaticAdapter {
	return &StaticAdapter{
		name:    name,
		docs:    map[string][]Document{},
		content: map[string]map[string]string{},
	}
}

// Name implements Adapter.
func (s *StaticAdapter) Name() string {
	return s.name
}

// AddDocument grants userID access to a document with the given text.
func (s *StaticAdapter) AddDocument(userID string, doc Document, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[userID] = append(s.docs[userID], doc)
	if s.content[userID] == nil {
		s.content[userID] = map[string]string{}
	}
	s.content[userID][doc.ID] = text
}

// RemoveDocument revokes userID's access to a document.
func (s *StaticAdapter) RemoveDocument(userID, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.docs[userID]
	for i, doc := range docs {
		if doc.ID == documentID {
			s.docs[userID] = append(docs[:i:i], docs[i+1:]...)
			break
		}
	}
	delete(s.content[userID], documentID)
}

// ListAccessibleDocuments implements Adapter.
func (s *StaticAdapter) ListAccessibleDocuments(_ context.Context, userID string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Document(nil), s.docs[userID]...), nil
}

// FetchContent implements Adapter.
func (s *StaticAdapter) FetchContent(_ context.Context, userID, documentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text, ok := s.content[userID][documentID]
	if !ok {
		return "", fmt.Errorf("%w: %s for user %s", ErrNotFound, documentID, userID)
	}
	return text, nil
}
