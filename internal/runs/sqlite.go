package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/quillstack/corpusd/internal/logging"
)

// schema is applied on open. All statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id              TEXT PRIMARY KEY,
	org_name        TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	datasource      TEXT NOT NULL,
	index_name      TEXT NOT NULL,
	status          TEXT NOT NULL,
	error           TEXT NOT NULL DEFAULT '',
	items_total     INTEGER NOT NULL DEFAULT 0,
	items_completed INTEGER NOT NULL DEFAULT 0,
	items_failed    INTEGER NOT NULL DEFAULT 0,
	started_at      DATETIME NOT NULL,
	finished_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_user
	ON runs (org_name, user_id, datasource, status);

CREATE TABLE IF NOT EXISTS run_items (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	document_id TEXT NOT NULL,
	title       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_run_items_run ON run_items (run_id);

CREATE TABLE IF NOT EXISTS item_logs (
	item_id TEXT NOT NULL REFERENCES run_items(id),
	stage   TEXT NOT NULL,
	percent INTEGER NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_item_logs_item ON item_logs (item_id);

CREATE TABLE IF NOT EXISTS access_ledger (
	index_name   TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	document_id  TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	PRIMARY KEY (index_name, user_id, document_id, content_hash)
);
`

// Tracker persists runs in SQLite. It owns the access ledger: the content
// hashes each user was granted in their most recent completed pass, keyed
// by document, which the next run diffs against to find revocations.
type Tracker struct {
	db       *sql.DB
	logger   *logging.Logger
	notifier Notifier
	now      func() time.Time
}

// NewTracker opens (and if needed creates) the tracker database.
func NewTracker(databasePath string, logger *logging.Logger) (*Tracker, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(databasePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening run database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Tracker{db: db, logger: logger, now: time.Now}, nil
}

// SetNotifier attaches a lifecycle notifier. Must be called before runs start.
func (t *Tracker) SetNotifier(n Notifier) {
	t.notifier = n
}

// Close closes the database.
func (t *Tracker) Close() error {
	return t.db.Close()
}

// StartRun creates a new pending run. It fails with ErrRunActive when a
// non-terminal run already exists for the same (org, user, datasource);
// the workflow layer enforces this across processes, the tracker enforces
// it for direct CLI use.
func (t *Tracker) StartRun(ctx context.Context, orgName, userID, datasource, indexName string) (Run, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var active int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs
		 WHERE org_name = ? AND user_id = ? AND datasource = ?
		   AND status IN (?, ?)`,
		orgName, userID, datasource, StatusPending, StatusProcessing,
	).Scan(&active)
	if err != nil {
		return Run{}, fmt.Errorf("checking active runs: %w", err)
	}
	if active > 0 {
		return Run{}, fmt.Errorf("%w: %s/%s/%s", ErrRunActive, orgName, userID, datasource)
	}

	run := Run{
		ID:         uuid.NewString(),
		OrgName:    orgName,
		UserID:     userID,
		Datasource: datasource,
		IndexName:  indexName,
		Status:     StatusPending,
		StartedAt:  t.now().UTC(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, org_name, user_id, datasource, index_name, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.OrgName, run.UserID, run.Datasource, run.IndexName, run.Status, run.StartedAt,
	)
	if err != nil {
		return Run{}, fmt.Errorf("inserting run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Run{}, fmt.Errorf("committing run: %w", err)
	}

	t.logger.Info(ctx, "run started",
		zap.String("run_id", run.ID),
		zap.String("org", run.OrgName),
		zap.String("user", run.UserID),
		zap.String("datasource", run.Datasource),
	)
	t.notifyRun(run)
	return run, nil
}

// UpdateRunStatus moves a run through its lifecycle. Terminal statuses set
// finished_at and an optional error message.
func (t *Tracker) UpdateRunStatus(ctx context.Context, runID string, status Status, errMsg string) error {
	run, err := t.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !canTransition(run.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, status)
	}

	var finishedAt any
	if status.Terminal() {
		finishedAt = t.now().UTC()
	}
	_, err = t.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, finishedAt, runID,
	)
	if err != nil {
		return fmt.Errorf("updating run %s: %w", runID, err)
	}

	run.Status = status
	run.Error = errMsg
	if status.Terminal() {
		t.logger.Info(ctx, "run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(status)),
			zap.String("error", errMsg),
		)
	}
	t.notifyRun(run)
	return nil
}

// SetItemsTotal records how many documents the run will process.
func (t *Tracker) SetItemsTotal(ctx context.Context, runID string, total int) error {
	_, err := t.db.ExecContext(ctx,
		`UPDATE runs SET items_total = ? WHERE id = ?`, total, runID)
	if err != nil {
		return fmt.Errorf("setting items total for run %s: %w", runID, err)
	}
	return nil
}

// GetRun fetches one run.
func (t *Tracker) GetRun(ctx context.Context, runID string) (Run, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT id, org_name, user_id, datasource, index_name, status, error,
		        items_total, items_completed, items_failed, started_at, finished_at
		 FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

// ActiveRun returns the in-flight run for (org, user, datasource), or
// ErrNotFound when none is active.
func (t *Tracker) ActiveRun(ctx context.Context, orgName, userID, datasource string) (Run, error) {
	row := t.db.QueryRowContext(ctx,
		`SELECT id, org_name, user_id, datasource, index_name, status, error,
		        items_total, items_completed, items_failed, started_at, finished_at
		 FROM runs
		 WHERE org_name = ? AND user_id = ? AND datasource = ? AND status IN (?, ?)
		 ORDER BY started_at DESC LIMIT 1`,
		orgName, userID, datasource, StatusPending, StatusProcessing)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var run Run
	var finishedAt sql.NullTime
	err := row.Scan(&run.ID, &run.OrgName, &run.UserID, &run.Datasource,
		&run.IndexName, &run.Status, &run.Error,
		&run.ItemsTotal, &run.ItemsCompleted, &run.ItemsFailed,
		&run.StartedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("scanning run: %w", err)
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return run, nil
}

// StartItem registers one document inside a run, already processing.
func (t *Tracker) StartItem(ctx context.Context, runID, documentID, title string) (Item, error) {
	item := Item{
		ID:         uuid.NewString(),
		RunID:      runID,
		DocumentID: documentID,
		Title:      title,
		Status:     StatusProcessing,
		StartedAt:  t.now().UTC(),
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO run_items (id, run_id, document_id, title, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.RunID, item.DocumentID, item.Title, item.Status, item.StartedAt)
	if err != nil {
		return Item{}, fmt.Errorf("inserting item: %w", err)
	}
	t.notifyItem(item)
	return item, nil
}

// FinishItem marks an item terminal and bumps the run's counters.
func (t *Tracker) FinishItem(ctx context.Context, itemID string, status Status, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: item must finish in a terminal status, got %s", ErrInvalidTransition, status)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var item Item
	var finishedAt sql.NullTime
	err = tx.QueryRowContext(ctx,
		`SELECT id, run_id, document_id, title, status, error, started_at, finished_at
		 FROM run_items WHERE id = ?`, itemID).
		Scan(&item.ID, &item.RunID, &item.DocumentID, &item.Title,
			&item.Status, &item.Error, &item.StartedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: item %s", ErrNotFound, itemID)
	}
	if err != nil {
		return fmt.Errorf("loading item %s: %w", itemID, err)
	}
	if item.Status.Terminal() {
		return fmt.Errorf("%w: item already %s", ErrInvalidTransition, item.Status)
	}

	now := t.now().UTC()
	_, err = tx.ExecContext(ctx,
		`UPDATE run_items SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, now, itemID)
	if err != nil {
		return fmt.Errorf("updating item %s: %w", itemID, err)
	}

	counter := "items_completed"
	if status == StatusFailed {
		counter = "items_failed"
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE runs SET %s = %s + 1 WHERE id = ?`, counter, counter),
		item.RunID)
	if err != nil {
		return fmt.Errorf("updating run counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing item finish: %w", err)
	}

	item.Status = status
	item.Error = errMsg
	item.FinishedAt = now
	t.notifyItem(item)
	return nil
}

// AppendItemLog records a stage/percent progress line for an item.
func (t *Tracker) AppendItemLog(ctx context.Context, itemID, stage string, percent int, message string) error {
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO item_logs (item_id, stage, percent, message, at)
		 VALUES (?, ?, ?, ?, ?)`,
		itemID, stage, percent, message, t.now().UTC())
	if err != nil {
		return fmt.Errorf("appending item log: %w", err)
	}
	return nil
}

// ListItems returns a run's items in start order.
func (t *Tracker) ListItems(ctx context.Context, runID string) ([]Item, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, run_id, document_id, title, status, error, started_at, finished_at
		 FROM run_items WHERE run_id = ? ORDER BY started_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing items for run %s: %w", runID, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var finishedAt sql.NullTime
		if err := rows.Scan(&item.ID, &item.RunID, &item.DocumentID, &item.Title,
			&item.Status, &item.Error, &item.StartedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		if finishedAt.Valid {
			item.FinishedAt = finishedAt.Time
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListItemLogs returns an item's progress lines in order.
func (t *Tracker) ListItemLogs(ctx context.Context, itemID string) ([]ItemLog, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT item_id, stage, percent, message, at
		 FROM item_logs WHERE item_id = ? ORDER BY at, rowid`, itemID)
	if err != nil {
		return nil, fmt.Errorf("listing logs for item %s: %w", itemID, err)
	}
	defer rows.Close()

	var logs []ItemLog
	for rows.Next() {
		var l ItemLog
		if err := rows.Scan(&l.ItemID, &l.Stage, &l.Percent, &l.Message, &l.At); err != nil {
			return nil, fmt.Errorf("scanning item log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// PriorAccess returns the content hashes granted to the user in their last
// completed pass over the index, keyed by document ID. The document keying
// lets a run that fails on one document preserve exactly that document's
// grants instead of treating them as lost.
func (t *Tracker) PriorAccess(ctx context.Context, indexName, userID string) (map[string][]string, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT document_id, content_hash FROM access_ledger
		 WHERE index_name = ? AND user_id = ? ORDER BY document_id, content_hash`,
		indexName, userID)
	if err != nil {
		return nil, fmt.Errorf("loading prior access: %w", err)
	}
	defer rows.Close()

	access := map[string][]string{}
	for rows.Next() {
		var docID, hash string
		if err := rows.Scan(&docID, &hash); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		access[docID] = append(access[docID], hash)
	}
	return access, rows.Err()
}

// RecordAccess replaces the user's ledger rows for the index with the given
// document-to-hashes map. Called once per run, after revocation succeeded,
// so a crashed run leaves the prior ledger intact and the next run re-diffs
// from the last known-good state.
func (t *Tracker) RecordAccess(ctx context.Context, indexName, userID, runID string, access map[string][]string) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM access_ledger WHERE index_name = ? AND user_id = ?`,
		indexName, userID)
	if err != nil {
		return fmt.Errorf("clearing ledger: %w", err)
	}

	// OR IGNORE: a document repeating a paragraph reports the hash twice.
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO access_ledger (index_name, user_id, document_id, content_hash, run_id)
		 VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing ledger insert: %w", err)
	}
	defer stmt.Close()

	for docID, hashes := range access {
		for _, hash := range hashes {
			if _, err := stmt.ExecContext(ctx, indexName, userID, docID, hash, runID); err != nil {
				return fmt.Errorf("inserting ledger row: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing ledger: %w", err)
	}
	return nil
}

func (t *Tracker) notifyRun(run Run) {
	if t.notifier != nil {
		t.notifier.RunChanged(run)
	}
}

func (t *Tracker) notifyItem(item Item) {
	if t.notifier != nil {
		t.notifier.ItemChanged(item)
	}
}
