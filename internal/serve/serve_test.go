package serve

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xmjiao/jianpu-ly/internal/history"
	"github.com/xmjiao/jianpu-ly/internal/metrics"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store *history.Store
	root  string
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := history.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "song.pdf"), []byte("%PDF-1.4"), 0o644))

	rec := metrics.New()
	rec.ObserveRun(true, time.Now())

	s := New(Config{Listen: "127.0.0.1:0", Root: root}, store, rec.Registry(), quietLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{store: store, root: root, srv: srv}
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	var body HealthzResponse
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.History)
	assert.Equal(t, f.root, body.Root)
}

func TestListAndGetRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, err := f.store.Begin(ctx, history.Run{Args: []string{"song.txt"}, Workdir: "/tmp/w"})
	require.NoError(t, err)
	require.NoError(t, f.store.RecordStage(ctx, id, history.Stage{Name: "convert", Status: history.StatusSucceeded, StartedAt: time.Now()}))
	require.NoError(t, f.store.Finish(ctx, id, history.Finish{Status: history.StatusSucceeded, BaseName: "song"}))

	var list RunsResponse
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/api/runs?limit=5", &list))
	require.Len(t, list.Runs, 1)
	assert.Equal(t, id, list.Runs[0].ID)

	var run history.Run
	assert.Equal(t, http.StatusOK, getJSON(t, f.srv.URL+"/api/runs/"+id, &run))
	assert.Equal(t, "song", run.BaseName)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, "convert", run.Stages[0].Name)
}

func TestListRunsEmptyIsArray(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/api/runs")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"runs":[]}`, string(data))
}

func TestRunErrors(t *testing.T) {
	f := newFixture(t)

	var e ErrorResponse
	assert.Equal(t, http.StatusNotFound, getJSON(t, f.srv.URL+"/api/runs/nope", &e))
	assert.Equal(t, "run not found", e.Error)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, f.srv.URL+"/api/runs?limit=-1", &e))
}

func TestFilesAreServedReadOnly(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/files/song.pdf")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "%PDF-1.4", string(data))

	resp, err = http.Post(f.srv.URL+"/files/song.pdf", "application/pdf", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), `jianpu_ly_pipeline_runs_total{status="succeeded"} 1`)
}

type failingStore struct{}

func (failingStore) List(context.Context, int) ([]history.Run, error) { return nil, errors.New("disk I/O") }
func (failingStore) Get(context.Context, string) (history.Run, error) { return history.Run{}, errors.New("disk I/O") }
func (failingStore) Ping(context.Context) error { return errors.New("disk I/O") }

func TestStoreFailures(t *testing.T) {
	srv := httptest.NewServer(New(Config{}, failingStore{}, nil, quietLogger()).Handler())
	defer srv.Close()

	var h HealthzResponse
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/healthz", &h))
	assert.Equal(t, "degraded", h.Status)

	var e ErrorResponse
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, srv.URL+"/api/runs", &e))
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, srv.URL+"/api/runs/x", &e))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHistoryDisabled(t *testing.T) {
	srv := httptest.NewServer(New(Config{}, nil, nil, quietLogger()).Handler())
	defer srv.Close()

	var h HealthzResponse
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &h))
	assert.Equal(t, "disabled", h.History)

	var e ErrorResponse
	assert.Equal(t, http.StatusServiceUnavailable, getJSON(t, srv.URL+"/api/runs", &e))
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(Config{Listen: "127.0.0.1:0"}, nil, nil, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
