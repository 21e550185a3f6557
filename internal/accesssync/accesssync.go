// Package accesssync keeps vector records' authorized-user sets in step
// with source-system permissions.
//
// Identical content seen through different users' access is stored once;
// what varies per user is membership in the record's authorized set. The
// synchronizer owns every mutation of that set: grants during indexing,
// revocations when access disappears, and deletion of records nobody can
// see anymore.
package accesssync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/quillstack/corpusd/internal/fingerprint"
	"github.com/quillstack/corpusd/internal/logging"
	"github.com/quillstack/corpusd/internal/vectorstore"
)

var tracer = otel.Tracer("corpusd.accesssync")

// ErrSyncFailed is returned when a grant or revocation could not be applied
// after retries.
var ErrSyncFailed = errors.New("access sync failed")

// ChunkRecord is one embedded chunk ready to be granted to a user.
type ChunkRecord struct {
	// ContentHash is the hash of the chunk's normalized text.
	ContentHash string

	// Vector is the chunk embedding.
	Vector []float32

	// Text is the normalized chunk text.
	Text string

	// Title and SourceURL describe the source document the chunk came from.
	Title     string
	SourceURL string
}

// Summary reports what one merge or revocation pass changed.
type Summary struct {
	// Created counts records written for the first time.
	Created int

	// Granted counts existing records that gained the user.
	Granted int

	// Unchanged counts records the user already had access to.
	Unchanged int

	// Revoked counts records that lost the user but kept other users.
	Revoked int

	// Deleted counts records removed because their authorized set emptied.
	Deleted int
}

// Add accumulates another summary into s.
func (s *Summary) Add(other Summary) {
	s.Created += other.Created
	s.Granted += other.Granted
	s.Unchanged += other.Unchanged
	s.Revoked += other.Revoked
	s.Deleted += other.Deleted
}

// Synchronizer applies access-set mutations through a batch writer.
//
// All read-modify-write cycles on a record happen under a per-record lock,
// so two in-process merges of the same content hash serialize instead of
// losing one user's grant. Cross-process serialization is the workflow
// layer's job: one workflow per (org, user, datasource) at a time.
type Synchronizer struct {
	store  vectorstore.Store
	writer *vectorstore.Writer
	locks  *keyedMutex
	logger *logging.Logger
	now    func() time.Time
}

// New creates a Synchronizer.
func New(store vectorstore.Store, writer *vectorstore.Writer, logger *logging.Logger) *Synchronizer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Synchronizer{
		store:  store,
		writer: writer,
		locks:  newKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}
}

// MergeDocument grants userID access to every chunk of one document.
//
// Chunks whose content already exists in the index are not re-written with
// fresh vectors; only their authorized set grows. New content is created
// with the user as sole member. The operation is idempotent: re-running it
// for the same user and content changes nothing.
func (s *Synchronizer) MergeDocument(ctx context.Context, index, userID string, chunks []ChunkRecord) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Synchronizer.MergeDocument", trace.WithAttributes(
		attribute.String("index", index),
		attribute.Int("chunk_count", len(chunks)),
	))
	defer span.End()

	var summary Summary
	if len(chunks) == 0 {
		return summary, nil
	}

	// Deduplicate within the document: repeated paragraphs produce repeated
	// hashes, and a record must be considered once per merge.
	byID := make(map[string]ChunkRecord, len(chunks))
	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		id := fingerprint.RecordID(index, chunk.ContentHash)
		if _, seen := byID[id]; seen {
			continue
		}
		byID[id] = chunk
		ids = append(ids, id)
	}

	unlock := s.locks.lockAll(ids)
	defer unlock()

	existing, err := s.store.Fetch(ctx, index, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, fmt.Errorf("%w: fetching existing records: %v", ErrSyncFailed, err)
	}

	indexedAt := s.now().UTC()
	var upserts []vectorstore.Record

	for _, id := range ids {
		chunk := byID[id]
		rec, ok := existing[id]
		if !ok {
			upserts = append(upserts, vectorstore.Record{
				ID:     id,
				Vector: chunk.Vector,
				Payload: vectorstore.Payload{
					ContentHash:       chunk.ContentHash,
					Text:              chunk.Text,
					Title:             chunk.Title,
					SourceURL:         chunk.SourceURL,
					IndexedAt:         indexedAt,
					AuthorizedUserIDs: []string{userID},
				},
			})
			summary.Created++
			continue
		}

		if !rec.Payload.AddUser(userID) {
			summary.Unchanged++
			continue
		}
		// Keep the stored vector and text: first writer wins for content,
		// the merge only grows the authorized set.
		upserts = append(upserts, rec)
		summary.Granted++
	}

	if len(upserts) > 0 {
		if _, err := s.writer.Apply(ctx, index, upserts, nil); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return summary, fmt.Errorf("%w: writing grants: %v", ErrSyncFailed, err)
		}
	}

	s.logger.Debug(ctx, "merged document access",
		zap.String("index", index),
		zap.Int("created", summary.Created),
		zap.Int("granted", summary.Granted),
		zap.Int("unchanged", summary.Unchanged),
	)
	observeSync(summary)
	span.SetStatus(codes.Ok, "success")
	return summary, nil
}

// Revoke removes userID from every record whose content hash is in
// staleHashes. A record whose authorized set would become empty is deleted
// instead of written back, so revoked content does not linger as an
// orphan nobody can retrieve.
//
// staleHashes is the difference between the user's previous run and the
// current one, computed from the run ledger.
func (s *Synchronizer) Revoke(ctx context.Context, index, userID string, staleHashes []string) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Synchronizer.Revoke", trace.WithAttributes(
		attribute.String("index", index),
		attribute.Int("stale_count", len(staleHashes)),
	))
	defer span.End()

	var summary Summary
	if len(staleHashes) == 0 {
		return summary, nil
	}

	ids := make([]string, 0, len(staleHashes))
	seen := make(map[string]bool, len(staleHashes))
	for _, hash := range staleHashes {
		id := fingerprint.RecordID(index, hash)
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	unlock := s.locks.lockAll(ids)
	defer unlock()

	existing, err := s.store.Fetch(ctx, index, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return summary, fmt.Errorf("%w: fetching records for revocation: %v", ErrSyncFailed, err)
	}

	var upserts []vectorstore.Record
	var deletes []string

	for _, id := range ids {
		rec, ok := existing[id]
		if !ok {
			// Already gone; revocation is idempotent.
			continue
		}
		if !rec.Payload.RemoveUser(userID) {
			continue
		}
		if len(rec.Payload.AuthorizedUserIDs) == 0 {
			deletes = append(deletes, id)
			summary.Deleted++
			continue
		}
		upserts = append(upserts, rec)
		summary.Revoked++
	}

	if len(upserts) > 0 || len(deletes) > 0 {
		if _, err := s.writer.Apply(ctx, index, upserts, deletes); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return summary, fmt.Errorf("%w: writing revocations: %v", ErrSyncFailed, err)
		}
	}

	s.logger.Info(ctx, "revoked stale access",
		zap.String("index", index),
		zap.Int("revoked", summary.Revoked),
		zap.Int("deleted", summary.Deleted),
	)
	observeSync(summary)
	span.SetStatus(codes.Ok, "success")
	return summary, nil
}
