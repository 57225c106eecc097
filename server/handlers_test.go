package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talocan/hharvest/config"
	internaltesting "github.com/talocan/hharvest/internal/testing"
	"github.com/talocan/hharvest/monitor"
	"github.com/talocan/hharvest/store"
)

// newTestServer wires a Server against a throwaway store. No dispatcher
// is attached, so task creation exercises the durable-queue fallback.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{}
	cfg.TaskDispatcher.MaxWorkers = 3
	cfg.TaskDispatcher.ChunkSize = 500
	cfg.TaskDispatcher.DefaultTimeoutSec = 3600
	cfg.TaskDispatcher.FrequencyHours = 1
	cfg.WebInterface.Host = "127.0.0.1"
	cfg.Logging.File = filepath.Join(t.TempDir(), "app.log")

	st := internaltesting.CreateTestStore(t)
	mon := monitor.New(cfg, zap.NewNop().Sugar())

	srv, err := New(st, nil, mon, cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(srv.cancel)
	return srv
}

func doRequest(t *testing.T, srv *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

// writeFiltersFile points HHARVEST_FILTERS at a fresh file for the
// duration of the test.
func writeFiltersFile(t *testing.T, filters []config.Filter) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "filters.json")
	data, err := json.Marshal(map[string]interface{}{"filters": filters})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("HHARVEST_FILTERS", path)
}

// useTempConfig isolates the cached global config on a temp path.
func useTempConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config_v4.json")
	t.Setenv("HHARVEST_CONFIG", path)
	config.Reset()
	t.Cleanup(config.Reset)
	return path
}

func boolPtr(v bool) *bool { return &v }

func TestHandleVersion(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dev", decodeBody(t, w)["version"])

	w = doRequest(t, srv, http.MethodPost, "/api/version", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleStats(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.store.CreateTask("t1", store.TaskTypeLoadVacancies, nil, nil, 60))

	w := doRequest(t, srv, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])

	tasks, ok := body["tasks"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), tasks[store.TaskStatusPending])

	sysInfo, ok := body["system_info"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), sysInfo["workers_configured"])
	assert.Contains(t, sysInfo, "db_size")
	assert.Contains(t, sysInfo, "memory_percent")
}

func TestHandleStatsDegradesWhenStoreFails(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.store.Close())

	w := doRequest(t, srv, http.MethodGet, "/api/stats", nil)
	// The dashboard keeps polling, so a dead store still answers 200
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.NotEmpty(t, body["error"])

	sysInfo, ok := body["system_info"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(0), sysInfo["db_size"])
}

func TestHandleSystemHealthIndicator(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/stats/system_health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	// Thresholds are unset in the fixture, so nothing can trip
	assert.Equal(t, "good", body["status"])
	assert.Equal(t, "#28a745", body["color"])
	assert.Contains(t, body["details"], "RAM:")
}

func TestHandleHealthCheck(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/system/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", body["database"])

	require.NoError(t, srv.store.Close())
	w = doRequest(t, srv, http.MethodGet, "/api/system/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unhealthy", decodeBody(t, w)["status"])
}

func TestHandleTasksFilterAndPaging(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.store.CreateTask("p1", store.TaskTypeCleanup, nil, nil, 60))
	require.NoError(t, srv.store.CreateTask("r1", store.TaskTypeCleanup, nil, nil, 60))
	require.NoError(t, srv.store.CreateTask("f1", store.TaskTypeCleanup, nil, nil, 60))
	require.NoError(t, srv.store.UpdateTaskStatus("r1", store.TaskStatusRunning, nil, "w0"))
	require.NoError(t, srv.store.UpdateTaskStatus("f1", store.TaskStatusFailed, nil, ""))

	w := doRequest(t, srv, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(3), body["total"])

	tasks, ok := body["tasks"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, tasks)
	first, ok := tasks[0].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, first["created_at_formatted"])

	w = doRequest(t, srv, http.MethodGet, "/api/tasks?status=pending,running", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), decodeBody(t, w)["total"])

	w = doRequest(t, srv, http.MethodGet, "/api/tasks?limit=2&offset=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])
}

func TestHandleTaskDetail(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.store.CreateTask("t1", store.TaskTypeLoadVacancies, nil, nil, 60))

	w := doRequest(t, srv, http.MethodGet, "/api/task/t1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "t1", decodeBody(t, w)["id"])

	w = doRequest(t, srv, http.MethodGet, "/api/task/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Task not found", decodeBody(t, w)["message"])

	w = doRequest(t, srv, http.MethodGet, "/api/task/", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Task id is required", decodeBody(t, w)["message"])
}

func TestHandleProcesses(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.store.CreateTask("t1", store.TaskTypeLoadVacancies, nil, nil, 600))
	require.NoError(t, srv.store.UpdateTaskStatus("t1", store.TaskStatusRunning, nil, "w0"))
	require.NoError(t, srv.store.UpdateTaskProgress("t1", map[string]interface{}{
		"total":     float64(100),
		"processed": float64(25),
	}))

	w := doRequest(t, srv, http.MethodGet, "/api/processes", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	procs, ok := body["active_processes"].([]interface{})
	require.True(t, ok)
	require.Len(t, procs, 1)

	proc, ok := procs[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "t1", proc["id"])
	assert.Equal(t, "load_vacancies Task", proc["name"])
	assert.Equal(t, float64(25), proc["progress"])
	assert.Equal(t, float64(100), proc["total_items"])
	assert.Equal(t, float64(25), proc["processed_items"])
}

func TestHandleQueueClear(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.store.CreateTask("p1", store.TaskTypeCleanup, nil, nil, 60))
	require.NoError(t, srv.store.CreateTask("p2", store.TaskTypeCleanup, nil, nil, 60))
	require.NoError(t, srv.store.CreateTask("r1", store.TaskTypeCleanup, nil, nil, 60))
	require.NoError(t, srv.store.UpdateTaskStatus("r1", store.TaskStatusRunning, nil, "w0"))

	// No body clears pending
	w := doRequest(t, srv, http.MethodPost, "/api/queue/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(2), body["deleted"])
	assert.Equal(t, store.TaskStatusPending, body["cleared_status"])

	// Running tasks are protected
	w = doRequest(t, srv, http.MethodPost, "/api/queue/clear", map[string]string{"status": "running"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWorkersStatus(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/workers/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(0), body["active_workers"])
	assert.Equal(t, float64(3), body["total_workers"])
	// Empty result renders as [], not null
	workers, ok := body["workers"].([]interface{})
	require.True(t, ok)
	assert.Empty(t, workers)

	require.NoError(t, srv.store.CreateTask("a", store.TaskTypeCleanup, nil, nil, 60))
	require.NoError(t, srv.store.UpdateTaskStatus("a", store.TaskStatusRunning, nil, "w0"))

	w = doRequest(t, srv, http.MethodGet, "/api/workers/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["active_workers"])
}

func TestHandleWorkersFreeze(t *testing.T) {
	useTempConfig(t)
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/workers/freeze", map[string]bool{"frozen": true})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["frozen"])
	assert.True(t, srv.cfg.TaskDispatcher.Frozen)

	// The flag survives a config reload
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.TaskDispatcher.Frozen)

	w = doRequest(t, srv, http.MethodPost, "/api/workers/freeze", map[string]bool{"frozen": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, srv.cfg.TaskDispatcher.Frozen)
}

func TestHandleScheduleNext(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/schedule/next", nil)
	require.Equal(t, http.StatusOK, w.Code)
	// Slots sit on whole-hour boundaries
	assert.Regexp(t, `^\d{2}:00$`, decodeBody(t, w)["next"])
}

func TestHandleFiltersNormalizesLegacyEnabled(t *testing.T) {
	writeFiltersFile(t, []config.Filter{
		{ID: "golang", Name: "Go jobs", Enabled: boolPtr(true)},
		{ID: "rust", Name: "Rust jobs", Active: boolPtr(false)},
	})
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/filters", nil)
	require.Equal(t, http.StatusOK, w.Code)

	filters, ok := decodeBody(t, w)["filters"].([]interface{})
	require.True(t, ok)
	require.Len(t, filters, 2)

	first, ok := filters[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "golang", first["id"])
	assert.Equal(t, true, first["active"])
	_, hasEnabled := first["enabled"]
	assert.False(t, hasEnabled, "legacy enabled flag should be folded into active")

	second, ok := filters[1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, second["active"])
}

func TestHandleFiltersSetActive(t *testing.T) {
	writeFiltersFile(t, []config.Filter{
		{ID: "golang", Name: "Go jobs", Active: boolPtr(true)},
	})
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/filters/set-active", map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "filter_id is required", decodeBody(t, w)["message"])

	w = doRequest(t, srv, http.MethodPost, "/api/filters/set-active", map[string]interface{}{
		"filter_id": "missing",
		"active":    false,
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/filters/set-active", map[string]interface{}{
		"filter_id": "golang",
		"active":    false,
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["active"])

	filters, err := config.LoadFilters()
	require.NoError(t, err)
	require.Len(t, filters, 1)
	assert.False(t, filters[0].IsActive())
}

func TestHandleFiltersToggleAllAndInvert(t *testing.T) {
	writeFiltersFile(t, []config.Filter{
		{ID: "a", Name: "A", Active: boolPtr(true)},
		{ID: "b", Name: "B", Active: boolPtr(false)},
		{ID: "c", Name: "C", Enabled: boolPtr(true)},
	})
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/filters/toggle-all", map[string]bool{"enable": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decodeBody(t, w)["count"])

	filters, err := config.LoadFilters()
	require.NoError(t, err)
	for _, f := range filters {
		assert.False(t, f.IsActive())
	}

	w = doRequest(t, srv, http.MethodPost, "/api/filters/invert", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decodeBody(t, w)["count"])

	filters, err = config.LoadFilters()
	require.NoError(t, err)
	for _, f := range filters {
		assert.True(t, f.IsActive())
	}
}

func TestHandleFiltersLoadNow(t *testing.T) {
	writeFiltersFile(t, []config.Filter{
		{ID: "golang", Name: "Go jobs", Active: boolPtr(true), Params: map[string]interface{}{
			"text":      "golang",
			"max_pages": float64(3),
		}},
		{ID: "rust", Name: "Rust jobs", Active: boolPtr(false)},
	})
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/filters/load-now", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["count"])

	created, ok := body["created"].([]interface{})
	require.True(t, ok)
	require.Len(t, created, 1)
	entry, ok := created[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "golang", entry["filter_id"])
	assert.NotEmpty(t, entry["task_id"])

	// The queue row carries the filter and chunking parameters
	tasks, err := srv.store.GetTasksByStatuses(nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, store.TaskTypeLoadVacancies, tasks[0].Type)

	params := tasks[0].Params()
	assert.Equal(t, float64(500), params["chunk_size"])
	assert.Equal(t, float64(3), params["max_pages"])
	filter, ok := params["filter"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "golang", filter["id"])
}

func TestHandleFiltersLoadNowExplicitSelection(t *testing.T) {
	writeFiltersFile(t, []config.Filter{
		{ID: "golang", Name: "Go jobs", Active: boolPtr(false)},
	})
	srv := newTestServer(t)

	// Explicit ids override the active flag
	w := doRequest(t, srv, http.MethodPost, "/api/filters/load-now", map[string]interface{}{
		"filter_ids": []string{"golang"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["count"])
}

func TestHandleFiltersLoadNowNoneSelected(t *testing.T) {
	writeFiltersFile(t, []config.Filter{
		{ID: "golang", Name: "Go jobs", Active: boolPtr(false)},
	})
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/filters/load-now", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "no filters selected", decodeBody(t, w)["message"])
}

func TestHandleRecentVacancies(t *testing.T) {
	srv := newTestServer(t)
	_, err := srv.store.SaveVacancy(&store.Vacancy{
		HHID:    "123",
		Title:   "Go Developer",
		Company: "Acme",
		Area:    "Berlin",
		URL:     "https://example.com/vacancy/123",
	})
	require.NoError(t, err)

	w := doRequest(t, srv, http.MethodGet, "/api/vacancies/recent", nil)
	require.Equal(t, http.StatusOK, w.Code)

	vacancies, ok := decodeBody(t, w)["vacancies"].([]interface{})
	require.True(t, ok)
	require.Len(t, vacancies, 1)

	v, ok := vacancies[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "123", v["hh_id"])
	assert.Equal(t, "Go Developer", v["name"])
	assert.Equal(t, "Acme", v["employer_name"])
	assert.Equal(t, "Berlin", v["area_name"])
	assert.Nil(t, v["salary_text"])
}

func TestHandleConfigReadMissingFile(t *testing.T) {
	useTempConfig(t)
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/config/read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody(t, w))
}

func TestHandleConfigWriteAndRead(t *testing.T) {
	useTempConfig(t)
	srv := newTestServer(t)

	doc := map[string]interface{}{
		"database":        map[string]interface{}{"path": "data/hh_v4.sqlite3"},
		"task_dispatcher": map[string]interface{}{"max_workers": 5},
		"logging":         map[string]interface{}{"level": "debug"},
	}

	w := doRequest(t, srv, http.MethodPost, "/api/config/write", doc)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	// Nothing to back up on the first write
	assert.Equal(t, "", body["backup"])

	w = doRequest(t, srv, http.MethodGet, "/api/config/read", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	read := decodeBody(t, w)
	assert.Contains(t, read, "database")

	// The second write backs up the first
	w = doRequest(t, srv, http.MethodPost, "/api/config/write", doc)
	require.Equal(t, http.StatusOK, w.Code)
	backup, ok := decodeBody(t, w)["backup"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(backup, "config_v4.json.bak."), "backup name: %s", backup)
}

func TestHandleConfigWriteRejectsInvalid(t *testing.T) {
	useTempConfig(t)
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/config/write", map[string]interface{}{
		"database": map[string]interface{}{},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeBody(t, w)["message"], "task_dispatcher")
}

func TestHandleAppLogs(t *testing.T) {
	srv := newTestServer(t)

	var b strings.Builder
	for i := 1; i <= 150; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	require.NoError(t, os.WriteFile(srv.cfg.Logging.File, []byte(b.String()), 0o644))

	w := doRequest(t, srv, http.MethodGet, "/api/logs/app", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(150), body["total_lines"])
	assert.Equal(t, float64(100), body["showing_last"])
	lines, ok := body["lines"].([]interface{})
	require.True(t, ok)
	require.Len(t, lines, 100)
	assert.Equal(t, "line 51", lines[0])

	w = doRequest(t, srv, http.MethodGet, "/api/logs/app?limit=30", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(30), decodeBody(t, w)["showing_last"])

	// Limits below the floor clamp up
	w = doRequest(t, srv, http.MethodGet, "/api/logs/app?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(20), decodeBody(t, w)["showing_last"])
}

func TestHandleAppLogsMissingFile(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/logs/app", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "app.log not found", decodeBody(t, w)["message"])
}

func TestHandleDaemonStatus(t *testing.T) {
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/daemon/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "stopped", body["status"])
	assert.Equal(t, false, body["running"])
	assert.Greater(t, body["unix_time"], float64(0))
}

func TestHandleDaemonTasksActive(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.store.CreateTask("r1", store.TaskTypeLoadVacancies, nil, nil, 60))
	require.NoError(t, srv.store.CreateTask("p1", store.TaskTypeCleanup, nil, nil, 60))
	require.NoError(t, srv.store.CreateTask("p2", store.TaskTypeCleanup, nil, nil, 60))
	require.NoError(t, srv.store.UpdateTaskStatus("r1", store.TaskStatusRunning, nil, "w0"))

	w := doRequest(t, srv, http.MethodGet, "/api/daemon/tasks/active", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	summary, ok := body["summary"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(3), summary["total"])
	assert.Equal(t, float64(1), summary["running"])
	assert.Equal(t, float64(2), summary["pending"])
	assert.Equal(t, "~0min", summary["queue_eta"])

	rows, ok := body["tasks"].([]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	row, ok := rows[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "w0", row["worker"])
	assert.Equal(t, store.TaskTypeLoadVacancies, row["task_type"])
}

func TestHandleDaemonStartDelegates(t *testing.T) {
	t.Setenv("HHARVEST_DAEMON_CMD", "/bin/echo")
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/daemon/start", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["returncode"])
	assert.Contains(t, body["stdout"], "daemon start --background")

	// Lifecycle verbs are POST-only
	w = doRequest(t, srv, http.MethodGet, "/api/daemon/start", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleDaemonStopReportsCommandFailure(t *testing.T) {
	t.Setenv("HHARVEST_DAEMON_CMD", "/bin/false")
	srv := newTestServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/daemon/stop", nil)
	// The delegation worked; the command's own failure is payload
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, float64(1), body["returncode"])
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/stats", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "OPTIONS")
}

func TestCORSDisallowedOrigin(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
	req.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	srv.setupRoutes().ServeHTTP(w, req)

	// Request is served, but without CORS approval
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCheckOrigin(t *testing.T) {
	srv := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, srv.checkOrigin(r), "same-origin requests carry no Origin header")

	r.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, srv.checkOrigin(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, srv.checkOrigin(r))
}
