// Package pipeline orchestrates an indexing run: list a user's documents,
// normalize and chunk their text, embed the chunks, and reconcile the
// index's access sets against what the user can currently see.
package pipeline

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
	"golang.org/x/sync/errgroup"

	"github.com/quillstack/corpusd/internal/accesssync"
	"github.com/quillstack/corpusd/internal/chunk"
	"github.com/quillstack/corpusd/internal/embeddings"
	"github.com/quillstack/corpusd/internal/fingerprint"
	"github.com/quillstack/corpusd/internal/logging"
	"github.com/quillstack/corpusd/internal/normalize"
	"github.com/quillstack/corpusd/internal/runs"
	"github.com/quillstack/corpusd/internal/sanitize"
	"github.com/quillstack/corpusd/internal/source"
	"github.com/quillstack/corpusd/internal/vectorstore"
)

var tracer = otel.Tracer("corpusd.pipeline")

// Config identifies the deployment the pipeline writes into.
type Config struct {
	// Environment is the deployment tier ("prod", "staging").
	Environment string

	// EnvironmentSlug distinguishes parallel deployments within a tier.
	EnvironmentSlug string

	// Version is the index schema version ("v1"). Bumping it starts a
	// fresh set of indexes without touching the old ones.
	Version string
}

// Pipeline runs indexing for one deployment.
type Pipeline struct {
	config     Config
	normalizer *normalize.Normalizer
	splitter   *chunk.Splitter
	vectorizer *embeddings.Vectorizer
	store      vectorstore.Store
	syncer     *accesssync.Synchronizer
	tracker    *runs.Tracker
	sources    *source.Registry
	logger     *logging.Logger
}

// New wires a Pipeline from its stages.
func New(
	config Config,
	normalizer *normalize.Normalizer,
	splitter *chunk.Splitter,
	vectorizer *embeddings.Vectorizer,
	store vectorstore.Store,
	syncer *accesssync.Synchronizer,
	tracker *runs.Tracker,
	sources *source.Registry,
	logger *logging.Logger,
) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pipeline{
		config:     config,
		normalizer: normalizer,
		splitter:   splitter,
		vectorizer: vectorizer,
		store:      store,
		syncer:     syncer,
		tracker:    tracker,
		sources:    sources,
		logger:     logger,
	}
}

// IndexName returns the index a run for (org, datasource) writes into.
func (p *Pipeline) IndexName(orgName, datasource string) string {
	return sanitize.IndexName(p.config.Environment, p.config.EnvironmentSlug,
		orgName, datasource, p.config.Version)
}

// Result summarizes one completed run.
type Result struct {
	RunID          string
	IndexName      string
	ItemsTotal     int
	ItemsCompleted int
	ItemsFailed    int
	Access         accesssync.Summary
}

// preparedItem is one document that finished the CPU/provider stages and is
// ready to merge into the store.
type preparedItem struct {
	doc    source.Document
	itemID string
	chunks []accesssync.ChunkRecord
	err    error
}

// IndexUser runs a full indexing pass for one user against one datasource.
//
// Item-scoped failures (bad content, provider hiccups) fail the item and
// continue; configuration failures abort the run. After all documents are
// processed, access granted in earlier runs but absent from this one is
// revoked.
func (p *Pipeline) IndexUser(ctx context.Context, orgName, userID, datasource string) (Result, error) {
	indexName := p.IndexName(orgName, datasource)
	ctx = logging.WithFields(ctx,
		zap.String("org", orgName),
		zap.String("user", userID),
		zap.String("datasource", datasource),
		zap.String("index", indexName),
	)

	ctx, span := tracer.Start(ctx, "Pipeline.IndexUser", trace.WithAttributes(
		attribute.String("org", orgName),
		attribute.String("user", userID),
		attribute.String("datasource", datasource),
		attribute.String("index", indexName),
	))
	defer span.End()

	run, err := p.tracker.StartRun(ctx, orgName, userID, datasource, indexName)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	result := Result{RunID: run.ID, IndexName: indexName}
	ctx = logging.WithFields(ctx, zap.String("run_id", run.ID))

	result, err = p.execute(ctx, run, orgName, userID, datasource, indexName, result)
	if err != nil {
		status := runs.StatusFailed
		if errors.Is(err, context.Canceled) {
			status = runs.StatusCanceled
		}
		if terr := p.tracker.UpdateRunStatus(ctx, run.ID, status, err.Error()); terr != nil {
			p.logger.Error(ctx, "recording run failure", zap.Error(terr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	if err := p.tracker.UpdateRunStatus(ctx, run.ID, runs.StatusCompleted, ""); err != nil {
		return result, err
	}
	span.SetStatus(codes.Ok, "success")
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, run runs.Run, orgName, userID, datasource, indexName string, result Result) (Result, error) {
	adapter, err := p.sources.Get(datasource)
	if err != nil {
		return result, classify(err)
	}

	// The dimension guard runs before any document is touched: an index
	// whose vectors do not match the embedder cannot accept a single write.
	if err := p.store.EnsureIndex(ctx, indexName, p.vectorizer.Dimension()); err != nil {
		return result, classify(err)
	}

	documents, err := adapter.ListAccessibleDocuments(ctx, userID)
	if err != nil {
		return result, classify(err)
	}

	if err := p.tracker.UpdateRunStatus(ctx, run.ID, runs.StatusProcessing, ""); err != nil {
		return result, err
	}
	if err := p.tracker.SetItemsTotal(ctx, run.ID, len(documents)); err != nil {
		return result, err
	}
	result.ItemsTotal = len(documents)

	p.logger.Info(ctx, "run listing complete", zap.Int("documents", len(documents)))

	// Preparation (fetch, normalize, chunk, embed) overlaps with store
	// writes: while document N is merging, document N+1 is being embedded.
	prepared := make(chan preparedItem, 1)
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(prepared)
		for _, doc := range documents {
			item, err := p.prepare(groupCtx, run.ID, userID, adapter, doc)
			if err != nil {
				// Fatal preparation error (tracker write failed or context
				// canceled); item-level errors ride inside the struct.
				return err
			}
			select {
			case prepared <- item:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
		return nil
	})

	current := map[string][]string{}
	failedDocs := map[string]bool{}
	group.Go(func() error {
		for item := range prepared {
			if err := p.merge(groupCtx, userID, indexName, item, &result, current, failedDocs); err != nil {
				return err
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return result, err
	}

	// Revocation: whatever the user was granted before but did not surface
	// in this run has been lost in the source system. A document whose item
	// failed this run still surfaced in the listing, so its prior grants
	// stay in force; only documents absent from the listing (or whose
	// content changed) lose access.
	prior, err := p.tracker.PriorAccess(ctx, indexName, userID)
	if err != nil {
		return result, err
	}
	ledger := make(map[string][]string, len(current))
	for docID, hashes := range current {
		ledger[docID] = hashes
	}
	for docID, hashes := range prior {
		if failedDocs[docID] {
			ledger[docID] = hashes
		}
	}
	stale := subtract(flatten(prior), flatten(ledger))

	revoked, err := p.syncer.Revoke(ctx, indexName, userID, stale)
	if err != nil {
		return result, classify(err)
	}
	result.Access.Add(revoked)

	// The ledger is replaced only after revocation succeeded, so a crash
	// in between re-diffs from the old state next run.
	if err := p.tracker.RecordAccess(ctx, indexName, userID, run.ID, ledger); err != nil {
		return result, err
	}

	observeRun(result)
	p.logger.Info(ctx, "run complete",
		zap.Int("items_total", result.ItemsTotal),
		zap.Int("items_completed", result.ItemsCompleted),
		zap.Int("items_failed", result.ItemsFailed),
		zap.Int("revoked", revoked.Revoked),
		zap.Int("deleted", revoked.Deleted),
	)
	return result, nil
}

// prepare runs the per-document stages up to (not including) the store
// write. Item-scoped failures are embedded in the returned struct; only
// infrastructure failures become the error return.
func (p *Pipeline) prepare(ctx context.Context, runID, userID string, adapter source.Adapter, doc source.Document) (preparedItem, error) {
	if err := ctx.Err(); err != nil {
		return preparedItem{}, err
	}

	item, err := p.tracker.StartItem(ctx, runID, doc.ID, doc.Title)
	if err != nil {
		return preparedItem{}, err
	}
	out := preparedItem{doc: doc, itemID: item.ID}

	stageStart := time.Now()

	raw, err := adapter.FetchContent(ctx, userID, doc.ID)
	if err != nil {
		out.err = classify(err)
		return out, nil
	}
	p.progress(ctx, item.ID, "fetch", 25, "")

	text, err := p.normalizer.Normalize(raw)
	if err != nil {
		out.err = classify(err)
		return out, nil
	}
	p.progress(ctx, item.ID, "normalize", 50, "")

	pieces, truncated := p.splitter.Split(text)
	if truncated {
		p.progress(ctx, item.ID, "chunk", 60, "document truncated at chunk limit")
	}
	if len(pieces) == 0 {
		out.err = classify(fmt.Errorf("%w: no chunks produced", normalize.ErrContent))
		return out, nil
	}

	texts := make([]string, len(pieces))
	for i, piece := range pieces {
		texts[i] = piece.Text
	}
	vectors, err := p.vectorizer.Embed(ctx, texts)
	if err != nil {
		out.err = classify(err)
		return out, nil
	}
	p.progress(ctx, item.ID, "embed", 90, "")

	out.chunks = make([]accesssync.ChunkRecord, len(pieces))
	for i, piece := range pieces {
		out.chunks[i] = accesssync.ChunkRecord{
			ContentHash: fingerprint.Hash(piece.Text),
			Vector:      vectors[i],
			Text:        piece.Text,
			Title:       doc.Title,
			SourceURL:   doc.URL,
		}
	}

	observeItemPrepared(time.Since(stageStart))
	return out, nil
}

// merge applies one prepared item to the store and finishes its tracking.
// Successfully merged documents land in current; failed ones are marked in
// failedDocs so revocation leaves their prior grants alone.
func (p *Pipeline) merge(ctx context.Context, userID, indexName string, item preparedItem, result *Result, current map[string][]string, failedDocs map[string]bool) error {
	if item.err != nil {
		return p.failItem(ctx, item, result, failedDocs)
	}

	summary, err := p.syncer.MergeDocument(ctx, indexName, userID, item.chunks)
	if err != nil {
		perr := classify(err)
		if perr.Fatal() {
			return perr
		}
		item.err = perr
		return p.failItem(ctx, item, result, failedDocs)
	}
	result.Access.Add(summary)

	hashes := make([]string, len(item.chunks))
	for i, c := range item.chunks {
		hashes[i] = c.ContentHash
	}
	current[item.doc.ID] = hashes

	p.progress(ctx, item.itemID, "write", 100, "")
	if err := p.tracker.FinishItem(ctx, item.itemID, runs.StatusCompleted, ""); err != nil {
		return err
	}
	result.ItemsCompleted++
	return nil
}

// failItem records an item-scoped failure and aborts the run only for
// configuration errors.
func (p *Pipeline) failItem(ctx context.Context, item preparedItem, result *Result, failedDocs map[string]bool) error {
	var perr *Error
	if !errors.As(item.err, &perr) {
		perr = classify(item.err)
	}
	if perr.Fatal() {
		return perr
	}
	failedDocs[item.doc.ID] = true

	p.logger.Warn(ctx, "item failed",
		zap.String("document_id", item.doc.ID),
		zap.String("kind", string(perr.Kind)),
		zap.Error(perr.Err),
	)
	observeItemFailed(perr.Kind)
	if err := p.tracker.FinishItem(ctx, item.itemID, runs.StatusFailed, perr.Error()); err != nil {
		return err
	}
	result.ItemsFailed++
	return nil
}

// progress appends a stage log line, dropping tracker errors: progress is
// advisory and must never fail a run.
func (p *Pipeline) progress(ctx context.Context, itemID, stage string, percent int, message string) {
	if err := p.tracker.AppendItemLog(ctx, itemID, stage, percent, message); err != nil {
		p.logger.Warn(ctx, "appending progress", zap.Error(err))
	}
}

// subtract returns the elements of a not present in b.
func subtract(a, b []string) []string {
	present := make(map[string]bool, len(b))
	for _, s := range b {
		present[s] = true
	}
	var out []string
	for _, s := range a {
		if !present[s] {
			out = append(out, s)
		}
	}
	return out
}

// flatten collects all hashes of a document-keyed access map. Duplicates
// are harmless: subtract treats its arguments as sets.
func flatten(access map[string][]string) []string {
	var out []string
	for _, hashes := range access {
		out = append(out, hashes...)
	}
	return out
}
