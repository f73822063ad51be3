package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/heatgrid/internal/db"
	"github.com/banshee-data/heatgrid/internal/testutil"
)

func setupServer(t *testing.T) (*httptest.Server, *db.RunStore) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	ws := NewWebServer(WebServerConfig{Address: "127.0.0.1:0", DB: database})
	srv := httptest.NewServer(ws.server.Handler)
	t.Cleanup(srv.Close)
	return srv, db.NewRunStore(database.DB)
}

func seedRun(t *testing.T, store *db.RunStore, id string, history []db.HistoryPoint) {
	t.Helper()
	require.NoError(t, store.Insert(&db.Run{
		RunID: id, Profile: "hybrid_small", Ranks: 2, GlobalRows: 8, Columns: 8, Workers: 2,
		Threshold: 0.01, MaxIterations: 100, Boundary: "ramp", State: "converged",
		Iterations: 42, GlobalDelta: 0.009, Elapsed: 250 * time.Millisecond,
	}, history))
}

func get(t *testing.T, srv *httptest.Server, path string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	srv, _ := setupServer(t)
	resp, body := get(t, srv, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"ok"`)
}

func TestRunsAPI(t *testing.T) {
	srv, store := setupServer(t)

	resp, body := get(t, srv, "/api/runs")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, body)

	seedRun(t, store, "run-1", []db.HistoryPoint{{Iteration: 10, GlobalDelta: 1}, {Iteration: 42, GlobalDelta: 0.009}})

	resp, body = get(t, srv, "/api/runs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []db.Run
	require.NoError(t, json.Unmarshal([]byte(body), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, 250*time.Millisecond, runs[0].Elapsed)

	resp, body = get(t, srv, "/api/runs/run-1")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusOK)
	assert.Contains(t, body, `"state":"converged"`)

	resp, body = get(t, srv, "/api/runs/run-1/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var points []db.HistoryPoint
	require.NoError(t, json.Unmarshal([]byte(body), &points))
	assert.Len(t, points, 2)
}

func TestRunsAPINotFound(t *testing.T) {
	srv, _ := setupServer(t)
	for _, path := range []string{
		"/api/runs/missing",
		"/api/runs/missing/history",
		"/charts/runs/missing/convergence",
		"/charts/runs/missing/temperature",
	} {
		t.Run(path, func(t *testing.T) {
			resp, body := get(t, srv, path)
			testutil.AssertStatusCode(t, resp.StatusCode, http.StatusNotFound)
			assert.Contains(t, body, "run not found")
		})
	}
}

func TestCharts(t *testing.T) {
	srv, store := setupServer(t)
	seedRun(t, store, "run-1", []db.HistoryPoint{{Iteration: 10, GlobalDelta: 1}, {Iteration: 42, GlobalDelta: 0.009}})
	require.NoError(t, store.SaveSnapshot("run-1", &db.Snapshot{Rows: 2, Cols: 2, Values: [][]float64{{0, 10}, {50, 100}}}))

	tests := []struct {
		path string
		want string
	}{
		{"/", "run-1"},
		{"/charts/runs", "Iterations per run"},
		{"/charts/runs/run-1/convergence", "Convergence"},
		{"/charts/runs/run-1/temperature", "Temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := get(t, srv, tt.path)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
			assert.Contains(t, body, tt.want)
		})
	}
}

func TestDeleteRun(t *testing.T) {
	srv, store := setupServer(t)
	seedRun(t, store, "run-1", []db.HistoryPoint{{Iteration: 42, GlobalDelta: 0.009}})

	del := func(path string) *http.Response {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	testutil.AssertStatusCode(t, del("/api/runs/run-1").StatusCode, http.StatusNoContent)
	resp, _ := get(t, srv, "/api/runs/run-1")
	testutil.AssertStatusCode(t, resp.StatusCode, http.StatusNotFound)
	testutil.AssertStatusCode(t, del("/api/runs/run-1").StatusCode, http.StatusNotFound)
}

func TestConvergenceChartWithoutHistory(t *testing.T) {
	srv, store := setupServer(t)
	seedRun(t, store, "empty", nil)
	resp, body := get(t, srv, "/charts/runs/empty/convergence")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "no history")
}

func TestTemperatureHeatMapOrientation(t *testing.T) {
	hm := temperatureHeatMap("r", &db.Snapshot{Rows: 2, Cols: 1, Values: [][]float64{{1}, {2}}})
	var buf bytes.Buffer
	require.NoError(t, hm.Render(&buf))
	assert.Contains(t, buf.String(), "blocks=2x1")
}

func TestStartStopsOnCancel(t *testing.T) {
	database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer database.Close()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ws := NewWebServer(WebServerConfig{Address: addr, DB: database})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
