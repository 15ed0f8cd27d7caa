package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conductor/pkg/board"
	"conductor/pkg/config"
	"conductor/pkg/metrics"
	"conductor/pkg/persistence"
	"conductor/pkg/proto"
	"conductor/pkg/runner"
	"conductor/pkg/scheduler"
)

type fixture struct {
	server *Server
	store  *persistence.Store
	sched  *scheduler.Scheduler
	mock   *runner.MockRunner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := persistence.InitializeDatabase(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := persistence.NewStore(db)

	mock := runner.NewMockRunner()
	sched := scheduler.New(store, mock, metrics.NewRecorder(prometheus.NewRegistry()), 2)
	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	t.Cleanup(func() {
		cancel()
		sched.Wait()
	})

	return &fixture{
		server: NewServer("127.0.0.1:0", sched, store),
		store:  store,
		sched:  sched,
		mock:   mock,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status scheduler.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Enabled)
	assert.Equal(t, 2, status.ConcurrencyLimit)
	assert.Equal(t, 0, status.ActiveCount)
}

func TestFeaturesEndpoint(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Create(&board.Feature{ID: "f1", Title: "First"}))

	rec := f.do(t, http.MethodGet, "/api/features", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var features []*board.Feature
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &features))
	require.Len(t, features, 1)
	assert.Equal(t, "f1", features[0].ID)

	// Empty board returns an empty array, not null.
	f2 := newFixture(t)
	rec = f2.do(t, http.MethodGet, "/api/features", "")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestAutomodeToggle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/automode/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.sched.Status().Enabled)

	rec = f.do(t, http.MethodPost, "/api/automode/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.sched.Status().Enabled)
}

func TestConcurrencyEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/concurrency", `{"limit": 5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, f.sched.Status().ConcurrencyLimit)

	rec = f.do(t, http.MethodPost, "/api/concurrency", `{"limit": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 5, f.sched.Status().ConcurrencyLimit)

	rec = f.do(t, http.MethodPost, "/api/concurrency", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprovalActions(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Create(&board.Feature{ID: "f1", Title: "First"}))
	require.NoError(t, f.store.UpdateStatus("f1", proto.StatusWaitingApproval, ""))

	rec := f.do(t, http.MethodPost, "/api/features/f1/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := f.store.Get("f1")
	require.NoError(t, err)
	assert.Equal(t, proto.StatusCompleted, got.Status)

	rec = f.do(t, http.MethodPost, "/api/features/f1/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Approving a verified feature conflicts.
	rec = f.do(t, http.MethodPost, "/api/features/f1/approve", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/features/missing/approve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequeueDispatchesAgain(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Create(&board.Feature{ID: "f1", Title: "First"}))
	require.NoError(t, f.store.UpdateStatus("f1", proto.StatusFailed, "boom"))

	f.do(t, http.MethodPost, "/api/automode/enable", "")

	rec := f.do(t, http.MethodPost, "/api/features/f1/requeue", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// The action pokes the scheduler, which dispatches the requeued feature.
	select {
	case id := <-f.mock.StartedCh():
		assert.Equal(t, "f1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("requeued feature was never dispatched")
	}
}

func TestAgentEndpoint(t *testing.T) {
	f := newFixture(t)

	// Without a loaded project config the update is rejected.
	rec := f.do(t, http.MethodPost, "/api/agent", `{"provider":"codex","model":"gpt-5"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	require.NoError(t, config.LoadConfig(t.TempDir()))
	t.Cleanup(config.Reset)

	rec = f.do(t, http.MethodPost, "/api/agent", `{"provider":"codex","model":"gpt-5"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	cfg, err := config.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, "codex", cfg.Agent.Provider)
	assert.Equal(t, "gpt-5", cfg.Agent.Model)

	rec = f.do(t, http.MethodPost, "/api/agent", `{"model":"no-provider"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConcurrencyPersistsToConfig(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, config.LoadConfig(t.TempDir()))
	t.Cleanup(config.Reset)

	rec := f.do(t, http.MethodPost, "/api/concurrency", `{"limit": 4}`)
	require.Equal(t, http.StatusOK, rec.Code)

	cfg, err := config.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
}

func TestLogsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/logs?since=not-a-time", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
