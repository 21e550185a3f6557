package runs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker(filepath.Join(t.TempDir(), "runs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })
	return tracker
}

func TestTracker_RunLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	run, err := tracker.StartRun(ctx, "acme", "alice", "drive", "prod-acme-drive-v1")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StatusPending, run.Status)

	require.NoError(t, tracker.UpdateRunStatus(ctx, run.ID, StatusProcessing, ""))
	require.NoError(t, tracker.UpdateRunStatus(ctx, run.ID, StatusCompleted, ""))

	got, err := tracker.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.False(t, got.FinishedAt.IsZero())
}

func TestTracker_RejectsConcurrentRunForSameUser(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	first, err := tracker.StartRun(ctx, "acme", "alice", "drive", "prod-acme-drive-v1")
	require.NoError(t, err)

	_, err = tracker.StartRun(ctx, "acme", "alice", "drive", "prod-acme-drive-v1")
	assert.ErrorIs(t, err, ErrRunActive)

	// A different user or datasource is fine.
	_, err = tracker.StartRun(ctx, "acme", "bob", "drive", "prod-acme-drive-v1")
	require.NoError(t, err)
	_, err = tracker.StartRun(ctx, "acme", "alice", "confluence", "prod-acme-confluence-v1")
	require.NoError(t, err)

	// Finishing the first frees the slot.
	require.NoError(t, tracker.UpdateRunStatus(ctx, first.ID, StatusProcessing, ""))
	require.NoError(t, tracker.UpdateRunStatus(ctx, first.ID, StatusFailed, "embed provider down"))
	_, err = tracker.StartRun(ctx, "acme", "alice", "drive", "prod-acme-drive-v1")
	require.NoError(t, err)
}

func TestTracker_InvalidTransitions(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	run, err := tracker.StartRun(ctx, "acme", "alice", "drive", "idx")
	require.NoError(t, err)

	// pending cannot jump to completed.
	err = tracker.UpdateRunStatus(ctx, run.ID, StatusCompleted, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, tracker.UpdateRunStatus(ctx, run.ID, StatusCanceled, ""))
	err = tracker.UpdateRunStatus(ctx, run.ID, StatusProcessing, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTracker_ItemsAndCounters(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	run, err := tracker.StartRun(ctx, "acme", "alice", "drive", "idx")
	require.NoError(t, err)
	require.NoError(t, tracker.UpdateRunStatus(ctx, run.ID, StatusProcessing, ""))
	require.NoError(t, tracker.SetItemsTotal(ctx, run.ID, 2))

	ok, err := tracker.StartItem(ctx, run.ID, "doc-1", "Roadmap")
	require.NoError(t, err)
	bad, err := tracker.StartItem(ctx, run.ID, "doc-2", "Corrupt scan")
	require.NoError(t, err)

	require.NoError(t, tracker.AppendItemLog(ctx, ok.ID, "embed", 60, "3 of 5 batches"))
	require.NoError(t, tracker.FinishItem(ctx, ok.ID, StatusCompleted, ""))
	require.NoError(t, tracker.FinishItem(ctx, bad.ID, StatusFailed, "content too short"))

	got, err := tracker.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ItemsTotal)
	assert.Equal(t, 1, got.ItemsCompleted)
	assert.Equal(t, 1, got.ItemsFailed)

	items, err := tracker.ListItems(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	logs, err := tracker.ListItemLogs(ctx, ok.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "embed", logs[0].Stage)
	assert.Equal(t, 60, logs[0].Percent)

	// Double-finish is rejected.
	err = tracker.FinishItem(ctx, ok.ID, StatusCompleted, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTracker_AccessLedgerDiff(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	prior, err := tracker.PriorAccess(ctx, "idx", "alice")
	require.NoError(t, err)
	assert.Empty(t, prior, "first run has no prior grants")

	require.NoError(t, tracker.RecordAccess(ctx, "idx", "alice", "run-1",
		map[string][]string{
			"d1": {"h1", "h2"},
			"d2": {"h3", "h3"},
		}))

	prior, err = tracker.PriorAccess(ctx, "idx", "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"d1": {"h1", "h2"},
		"d2": {"h3"},
	}, prior, "duplicates within a document collapse")

	// Next run sees fewer documents; ledger is replaced wholesale.
	require.NoError(t, tracker.RecordAccess(ctx, "idx", "alice", "run-2",
		map[string][]string{"d1": {"h2"}}))
	prior, err = tracker.PriorAccess(ctx, "idx", "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"d1": {"h2"}}, prior)

	// The same hash may be held through two documents.
	require.NoError(t, tracker.RecordAccess(ctx, "idx", "alice", "run-3",
		map[string][]string{"d1": {"h2"}, "d3": {"h2"}}))
	prior, err = tracker.PriorAccess(ctx, "idx", "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"d1": {"h2"}, "d3": {"h2"}}, prior)

	// Ledgers are scoped per user and index.
	bob, err := tracker.PriorAccess(ctx, "idx", "bob")
	require.NoError(t, err)
	assert.Empty(t, bob)
	other, err := tracker.PriorAccess(ctx, "other-idx", "alice")
	require.NoError(t, err)
	assert.Empty(t, other)
}

type recordingNotifier struct {
	runs  []Run
	items []Item
}

func (n *recordingNotifier) RunChanged(run Run)    { n.runs = append(n.runs, run) }
func (n *recordingNotifier) ItemChanged(item Item) { n.items = append(n.items, item) }

func TestTracker_Notifier(t *testing.T) {
	ctx := context.Background()
	tracker := newTestTracker(t)

	notifier := &recordingNotifier{}
	tracker.SetNotifier(notifier)

	run, err := tracker.StartRun(ctx, "acme", "alice", "drive", "idx")
	require.NoError(t, err)
	require.NoError(t, tracker.UpdateRunStatus(ctx, run.ID, StatusProcessing, ""))

	item, err := tracker.StartItem(ctx, run.ID, "doc-1", "Roadmap")
	require.NoError(t, err)
	require.NoError(t, tracker.FinishItem(ctx, item.ID, StatusCompleted, ""))

	require.Len(t, notifier.runs, 2)
	assert.Equal(t, StatusPending, notifier.runs[0].Status)
	assert.Equal(t, StatusProcessing, notifier.runs[1].Status)
	require.Len(t, notifier.items, 2)
	assert.Equal(t, StatusCompleted, notifier.items[1].Status)
}
