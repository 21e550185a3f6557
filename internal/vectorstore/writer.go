package vectorstore

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// writerTracer for OpenTelemetry instrumentation.
var writerTracer = otel.Tracer("corpusd.vectorstore.writer")

// WriterConfig holds configuration for the batch writer.
type WriterConfig struct {
	// BatchSize is the number of records per store write. Default: 100
	BatchSize int

	// MaxRetries is the number of retry passes for a failed batch before
	// its items are reported as failures. Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff before a retry pass. Doubles on
	// each pass. Default: 500ms
	RetryBackoff time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *WriterConfig) ApplyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// Validate validates the configuration.
func (c WriterConfig) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// ItemFailure records one record that could not be written after retries.
type ItemFailure struct {
	// ID is the record ID (upserts) or deleted ID (deletes).
	ID string

	// Op is "upsert" or "delete".
	Op string

	// Err is the final error from the store.
	Err error
}

// WriteResult summarizes one Apply call.
type WriteResult struct {
	Upserted int
	Deleted  int
	Failures []ItemFailure
}

// Failed reports whether any item failed.
func (r WriteResult) Failed() bool {
	return len(r.Failures) > 0
}

// Writer batches upserts and deletes against a Store.
//
// A failed batch is retried whole, then split in half and each half retried
// independently, down to single records. One poisoned record therefore costs
// only itself, not its whole batch, and the per-item failure list lets the
// caller mark exactly the affected documents.
type Writer struct {
	store  Store
	config WriterConfig
}

// NewWriter creates a Writer over the given store.
func NewWriter(store Store, config WriterConfig) (*Writer, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &Writer{store: store, config: config}, nil
}

// Apply writes the upserts and deletes to the index. Deletes run after
// upserts so a record being handed from one content hash to another is never
// transiently absent.
func (w *Writer) Apply(ctx context.Context, index string, upserts []Record, deletes []string) (WriteResult, error) {
	ctx, span := writerTracer.Start(ctx, "Writer.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("index", index),
		attribute.Int("upserts", len(upserts)),
		attribute.Int("deletes", len(deletes)),
	)

	var result WriteResult

	for start := 0; start < len(upserts); start += w.config.BatchSize {
		end := min(start+w.config.BatchSize, len(upserts))
		w.applyUpserts(ctx, index, upserts[start:end], &result)
	}

	for start := 0; start < len(deletes); start += w.config.BatchSize {
		end := min(start+w.config.BatchSize, len(deletes))
		w.applyDeletes(ctx, index, deletes[start:end], &result)
	}

	observeWrite(result)
	span.SetAttributes(
		attribute.Int("upserted", result.Upserted),
		attribute.Int("deleted", result.Deleted),
		attribute.Int("failures", len(result.Failures)),
	)
	if result.Failed() {
		span.SetStatus(codes.Error, fmt.Sprintf("%d items failed", len(result.Failures)))
		return result, fmt.Errorf("%w: %d of %d items failed",
			ErrWriteFailed, len(result.Failures), len(upserts)+len(deletes))
	}
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

func (w *Writer) applyUpserts(ctx context.Context, index string, batch []Record, result *WriteResult) {
	err := w.retry(ctx, func() error {
		return w.store.Upsert(ctx, index, batch)
	})
	if err == nil {
		result.Upserted += len(batch)
		return
	}

	if len(batch) == 1 {
		result.Failures = append(result.Failures, ItemFailure{
			ID:  batch[0].ID,
			Op:  "upsert",
			Err: err,
		})
		return
	}

	// Split in half to isolate the failing record.
	mid := len(batch) / 2
	w.applyUpserts(ctx, index, batch[:mid], result)
	w.applyUpserts(ctx, index, batch[mid:], result)
}

func (w *Writer) applyDeletes(ctx context.Context, index string, batch []string, result *WriteResult) {
	err := w.retry(ctx, func() error {
		return w.store.Delete(ctx, index, batch)
	})
	if err == nil {
		result.Deleted += len(batch)
		return
	}

	if len(batch) == 1 {
		result.Failures = append(result.Failures, ItemFailure{
			ID:  batch[0],
			Op:  "delete",
			Err: err,
		})
		return
	}

	mid := len(batch) / 2
	w.applyDeletes(ctx, index, batch[:mid], result)
	w.applyDeletes(ctx, index, batch[mid:], result)
}

// retry runs op up to MaxRetries+1 times with exponential backoff.
func (w *Writer) retry(ctx context.Context, op func() error) error {
	backoff := w.config.RetryBackoff

	var err error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == w.config.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("write canceled: %w", ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return err
}
