package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillstack/corpusd/internal/runs"
)

func newTestServer(t *testing.T) (*Server, *runs.Tracker) {
	t.Helper()
	tracker, err := runs.NewTracker(filepath.Join(t.TempDir(), "runs.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close() })
	return New(tracker, nil), tracker
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestGetRun(t *testing.T) {
	ctx := context.Background()
	srv, tracker := newTestServer(t)

	run, err := tracker.StartRun(ctx, "acme", "alice", "drive", "prod-acme-drive-v1")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+run.ID, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, run.ID, resp["id"])
	assert.Equal(t, "alice", resp["user_id"])
	assert.Equal(t, "pending", resp["status"])
	assert.Nil(t, resp["finished_at"])
}

func TestGetRun_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListItems(t *testing.T) {
	ctx := context.Background()
	srv, tracker := newTestServer(t)

	run, err := tracker.StartRun(ctx, "acme", "alice", "drive", "idx")
	require.NoError(t, err)
	require.NoError(t, tracker.UpdateRunStatus(ctx, run.ID, runs.StatusProcessing, ""))

	item, err := tracker.StartItem(ctx, run.ID, "doc-1", "Handbook")
	require.NoError(t, err)
	require.NoError(t, tracker.AppendItemLog(ctx, item.ID, "embed", 50, ""))
	require.NoError(t, tracker.FinishItem(ctx, item.ID, runs.StatusCompleted, ""))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+run.ID+"/items", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "doc-1", items[0]["document_id"])
	assert.Equal(t, "completed", items[0]["status"])

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/"+item.ID+"/logs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var logs []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "embed", logs[0]["stage"])
	assert.EqualValues(t, 50, logs[0]["percent"])
}
