package pipeline

import (
	"errors"
	"fmt"

	"github.com/quillstack/corpusd/internal/accesssync"
	"github.com/quillstack/corpusd/internal/embeddings"
	"github.com/quillstack/corpusd/internal/normalize"
	"github.com/quillstack/corpusd/internal/source"
	"github.com/quillstack/corpusd/internal/vectorstore"
)

// Kind classifies a pipeline failure by where it belongs and who can fix it.
type Kind string

const (
	// KindContent marks failures caused by the document itself: empty after
	// normalization, too short, too long, unfetchable. The item is skipped
	// and the run continues.
	KindContent Kind = "content"

	// KindEmbedding marks embedding provider failures. The item fails, the
	// run continues; the provider may recover for the next document.
	KindEmbedding Kind = "embedding"

	// KindWrite marks vector store write failures that survived retries.
	KindWrite Kind = "write"

	// KindConfiguration marks operator errors: dimension mismatches, bad
	// credentials, unknown datasources. No item can succeed, so the run
	// aborts immediately.
	KindConfiguration Kind = "configuration"
)

// Error is a classified pipeline error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether the error must abort the whole run.
func (e *Error) Fatal() bool {
	return e.Kind == KindConfiguration
}

// classify wraps err with its pipeline kind.
func classify(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	switch {
	case errors.Is(err, vectorstore.ErrDimensionMismatch),
		errors.Is(err, vectorstore.ErrInvalidConfig),
		errors.Is(err, vectorstore.ErrInvalidIndexName),
		errors.Is(err, embeddings.ErrInvalidConfig),
		errors.Is(err, source.ErrAuthFailed),
		errors.Is(err, source.ErrUnknownSource):
		return &Error{Kind: KindConfiguration, Err: err}

	case errors.Is(err, normalize.ErrContent),
		errors.Is(err, source.ErrNotFound),
		errors.Is(err, source.ErrFetchFailed):
		return &Error{Kind: KindContent, Err: err}

	case errors.Is(err, embeddings.ErrEmbeddingFailed),
		errors.Is(err, embeddings.ErrEmptyInput):
		return &Error{Kind: KindEmbedding, Err: err}

	case errors.Is(err, vectorstore.ErrWriteFailed),
		errors.Is(err, accesssync.ErrSyncFailed):
		return &Error{Kind: KindWrite, Err: err}
	}

	// Anything unknown is treated as a write-side failure: retryable on
	// the next run, never silently skipped.
	return &Error{Kind: KindWrite, Err: err}
}
