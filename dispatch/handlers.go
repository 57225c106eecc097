package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/talocan/hharvest/auth"
	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/fetch"
	"github.com/talocan/hharvest/hosts"
	"github.com/talocan/hharvest/monitor"
	"github.com/talocan/hharvest/store"
	"github.com/talocan/hharvest/sym"
)

const (
	// maxPagesCap bounds one load run. The upstream window ends around
	// page 2000; a scheduled run should never chew that much.
	maxPagesCap = 200

	// recordsPerPage mirrors the upstream search page size.
	recordsPerPage = 100

	defaultChunkSize = 500

	employerBatchLimit = 100
	syncBatchLimit     = 100
	analyzeBatchLimit  = 50

	// analysisPlugin names the plugin_results rows host3 writes.
	analysisPlugin = "host3_analysis"
)

// RegisterBuiltinHandlers wires every task type the engine ships.
// host2 and host3 may be nil when their config blocks are disabled.
func RegisterBuiltinHandlers(r *Registry, st *store.Store, authReg *auth.Registry,
	mon *monitor.Monitor, host2 *hosts.Host2Client, host3 *hosts.Host3Client,
	cfg *config.Config, logger *zap.SugaredLogger) {

	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	syncHandler := NewSyncHost2Handler(st, host2, cfg, logger)
	analyzeHandler := NewAnalyzeHost3Handler(st, host3, cfg, logger)

	r.Register(NewLoadVacanciesHandler(st, authReg, cfg, logger))
	r.Register(NewLoadEmployersHandler(st, authReg, cfg, logger))
	r.Register(NewCleanupHandler(st, cfg, logger))
	r.Register(syncHandler)
	r.Register(analyzeHandler)
	r.Register(NewProcessPipelineHandler(syncHandler, analyzeHandler))
	r.Register(NewHealthCheckHandler(st, mon, logger))
	r.Register(NewTestHandler(st, mon, logger))
}

// LoadVacanciesHandler pulls search pages chunk by chunk. A fresh
// fetcher per run keeps per-task stats and one-shot downgrades scoped
// to the task.
type LoadVacanciesHandler struct {
	store  *store.Store
	auth   *auth.Registry
	cfg    *config.Config
	logger *zap.SugaredLogger
}

func NewLoadVacanciesHandler(st *store.Store, authReg *auth.Registry, cfg *config.Config, logger *zap.SugaredLogger) *LoadVacanciesHandler {
	return &LoadVacanciesHandler{store: st, auth: authReg, cfg: cfg, logger: logger}
}

func (h *LoadVacanciesHandler) Name() string { return store.TaskTypeLoadVacancies }

func (h *LoadVacanciesHandler) Execute(ctx context.Context, task *store.Task) (map[string]interface{}, error) {
	params := task.Params()
	filter, _ := params["filter"].(map[string]interface{})
	if filter == nil {
		filter = map[string]interface{}{}
	}

	fetcher := fetch.NewFetcher(h.cfg.API, h.store, h.auth, h.logger)

	maxPages, ok := intParam(params, "max_pages")
	if !ok || maxPages <= 0 {
		maxPages = fetcher.EstimateTotalPages(ctx, filter)
	}
	if maxPages > maxPagesCap {
		maxPages = maxPagesCap
	}
	if maxPages < 1 {
		maxPages = 1
	}

	chunkSize, ok := intParam(params, "chunk_size")
	if !ok || chunkSize <= 0 {
		chunkSize = h.cfg.TaskDispatcher.ChunkSize
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	pagesPerChunk := chunkSize / recordsPerPage
	if pagesPerChunk < 1 {
		pagesPerChunk = 1
	}

	var loaded, pages, chunks, pageErrors int
	for start := 0; start < maxPages; start += pagesPerChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + pagesPerChunk
		if end > maxPages {
			end = maxPages
		}

		res, err := fetcher.FetchChunk(ctx, fetch.ChunkParams{
			PageStart: start,
			PageEnd:   end,
			Filter:    filter,
			TaskID:    task.ID,
		})
		if err != nil {
			return nil, err
		}
		chunks++
		loaded += res.LoadedCount
		pages += res.ProcessedPages
		pageErrors += len(res.Errors)

		if res.LoadedCount == 0 {
			break
		}
		if res.LastPage < end-1 {
			// The chunk ended on a short or empty page: upstream ran dry.
			break
		}
	}

	stats := fetcher.Stats()
	result := map[string]interface{}{
		"loaded":          loaded,
		"pages_processed": pages,
		"chunks":          chunks,
		"requests_made":   stats.RequestsMade,
	}
	if id, ok := filter["id"].(string); ok && id != "" {
		result["filter_id"] = id
	}
	if pageErrors > 0 {
		result["page_errors"] = pageErrors
	}

	h.logger.Infow(sym.Fetch+" Vacancy load finished",
		"task_id", shortID(task.ID), "loaded", loaded, "pages", pages)
	return result, nil
}

// LoadEmployersHandler backfills employer rows referenced by vacancies.
type LoadEmployersHandler struct {
	store  *store.Store
	auth   *auth.Registry
	cfg    *config.Config
	logger *zap.SugaredLogger
}

func NewLoadEmployersHandler(st *store.Store, authReg *auth.Registry, cfg *config.Config, logger *zap.SugaredLogger) *LoadEmployersHandler {
	return &LoadEmployersHandler{store: st, auth: authReg, cfg: cfg, logger: logger}
}

func (h *LoadEmployersHandler) Name() string { return store.TaskTypeLoadEmployers }

func (h *LoadEmployersHandler) Execute(ctx context.Context, task *store.Task) (map[string]interface{}, error) {
	limit, ok := intParam(task.Params(), "limit")
	if !ok || limit <= 0 || limit > employerBatchLimit {
		limit = employerBatchLimit
	}

	ids, err := h.store.GetMissingEmployerIDs(limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]interface{}{"requested": 0, "saved": 0}, nil
	}

	fetcher := fetch.NewFetcher(h.cfg.API, h.store, h.auth, h.logger)

	var saved, missing, failed int
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		employer, err := fetcher.FetchEmployer(ctx, id)
		if err != nil {
			failed++
			h.logger.Warnw("Employer fetch failed", "employer_id", id, "error", err)
			continue
		}
		if employer == nil {
			// Upstream 404: the employer page is gone, not an error.
			missing++
			continue
		}
		if _, err := h.store.SaveEmployer(employer); err != nil {
			failed++
			h.logger.Warnw("Employer save failed", "employer_id", id, "error", err)
			continue
		}
		saved++

		if (i+1)%10 == 0 {
			_ = h.store.UpdateTaskProgress(task.ID, map[string]interface{}{
				"processed": i + 1,
				"total":     len(ids),
				"saved":     saved,
			})
		}
	}

	h.logger.Infow(sym.Fetch+" Employer backfill finished",
		"task_id", shortID(task.ID), "requested", len(ids), "saved", saved)
	return map[string]interface{}{
		"requested": len(ids),
		"saved":     saved,
		"missing":   missing,
		"errors":    failed,
	}, nil
}

// CleanupHandler trims terminal tasks, old health samples and old log
// rows past the retention window.
type CleanupHandler struct {
	store  *store.Store
	cfg    *config.Config
	logger *zap.SugaredLogger
}

func NewCleanupHandler(st *store.Store, cfg *config.Config, logger *zap.SugaredLogger) *CleanupHandler {
	return &CleanupHandler{store: st, cfg: cfg, logger: logger}
}

func (h *CleanupHandler) Name() string { return store.TaskTypeCleanup }

func (h *CleanupHandler) Execute(ctx context.Context, task *store.Task) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keepDays, ok := intParam(task.Params(), "keep_days")
	if !ok || keepDays <= 0 {
		keepDays = h.cfg.Cleanup.KeepDays
	}
	if keepDays <= 0 {
		keepDays = 30
	}

	removedTasks, err := h.store.CleanupOldTasks(keepDays)
	if err != nil {
		return nil, err
	}

	retention := h.cfg.SystemMonitoring.RetentionDays
	if retention <= 0 {
		retention = keepDays
	}
	removedHealth, err := h.store.CleanupOldHealth(retention)
	if err != nil {
		return nil, err
	}
	removedLogs, err := h.store.CleanupOldLogs(keepDays)
	if err != nil {
		return nil, err
	}

	vacuum := h.cfg.Cleanup.Vacuum
	if v, ok := task.Params()["vacuum_db"].(bool); ok {
		vacuum = v
	}
	if vacuum {
		if err := h.store.Vacuum(); err != nil {
			return nil, err
		}
	}

	h.logger.Infow(sym.DB+" Cleanup finished",
		"tasks", removedTasks, "health", removedHealth, "logs", removedLogs,
		"keep_days", keepDays, "vacuumed", vacuum)
	return map[string]interface{}{
		"keep_days":      keepDays,
		"removed_tasks":  removedTasks,
		"removed_health": removedHealth,
		"removed_logs":   removedLogs,
		"vacuumed":       vacuum,
	}, nil
}

// SyncHost2Handler pushes unsynced vacancies to the analytics host.
type SyncHost2Handler struct {
	store  *store.Store
	client *hosts.Host2Client
	cfg    *config.Config
	logger *zap.SugaredLogger
}

func NewSyncHost2Handler(st *store.Store, client *hosts.Host2Client, cfg *config.Config, logger *zap.SugaredLogger) *SyncHost2Handler {
	return &SyncHost2Handler{store: st, client: client, cfg: cfg, logger: logger}
}

func (h *SyncHost2Handler) Name() string { return store.TaskTypeSyncHost2 }

func (h *SyncHost2Handler) Execute(ctx context.Context, task *store.Task) (map[string]interface{}, error) {
	if !h.cfg.HostEnabled("host2") || h.client == nil {
		return map[string]interface{}{"status": "skipped", "reason": "host2 disabled"}, nil
	}

	limit, ok := intParam(task.Params(), "batch_size")
	if !ok || limit <= 0 {
		limit = syncBatchLimit
	}

	ids, err := h.store.GetUnsyncedVacancyIDs(limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[string]interface{}{"status": "success", "synced": 0}, nil
	}

	resp, err := h.client.SyncVacancyData(ctx, ids)
	if err != nil {
		return nil, err
	}
	marked, err := h.store.MarkVacanciesSynced(ids)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status":        resp["status"],
		"requested":     len(ids),
		"synced":        marked,
		"host_response": resp,
	}, nil
}

// AnalyzeHost3Handler sends unanalyzed vacancies to the analysis host
// and persists each response as a plugin result.
type AnalyzeHost3Handler struct {
	store  *store.Store
	client *hosts.Host3Client
	cfg    *config.Config
	logger *zap.SugaredLogger
}

func NewAnalyzeHost3Handler(st *store.Store, client *hosts.Host3Client, cfg *config.Config, logger *zap.SugaredLogger) *AnalyzeHost3Handler {
	return &AnalyzeHost3Handler{store: st, client: client, cfg: cfg, logger: logger}
}

func (h *AnalyzeHost3Handler) Name() string { return store.TaskTypeAnalyzeHost3 }

func (h *AnalyzeHost3Handler) Execute(ctx context.Context, task *store.Task) (map[string]interface{}, error) {
	if !h.cfg.HostEnabled("host3") || h.client == nil {
		return map[string]interface{}{"status": "skipped", "reason": "host3 disabled"}, nil
	}

	params := task.Params()
	batch, ok := intParam(params, "batch_size")
	if !ok || batch <= 0 {
		batch = analyzeBatchLimit
	}
	newOnly, _ := params["analyze_new_only"].(bool)

	vacancies, err := h.store.GetUnanalyzedVacancies(batch, newOnly)
	if err != nil {
		return nil, err
	}

	var analyzed, failed int
	for i := range vacancies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		v := &vacancies[i]
		resp, err := h.client.AnalyzeVacancy(ctx, v)
		if err != nil {
			failed++
			h.logger.Warnw("Vacancy analysis failed", "vacancy_id", v.ID, "error", err)
			continue
		}
		if err := h.store.SavePluginResult(strconv.FormatInt(v.ID, 10), analysisPlugin, resp); err != nil {
			failed++
			h.logger.Warnw("Analysis result save failed", "vacancy_id", v.ID, "error", err)
			continue
		}
		analyzed++
	}

	return map[string]interface{}{
		"status":   "success",
		"batch":    len(vacancies),
		"analyzed": analyzed,
		"errors":   failed,
	}, nil
}

// ProcessPipelineHandler is the reserved combined hook: host2 sync then
// host3 analysis, each skipping itself when its host is disabled.
type ProcessPipelineHandler struct {
	sync    *SyncHost2Handler
	analyze *AnalyzeHost3Handler
}

func NewProcessPipelineHandler(sync *SyncHost2Handler, analyze *AnalyzeHost3Handler) *ProcessPipelineHandler {
	return &ProcessPipelineHandler{sync: sync, analyze: analyze}
}

func (h *ProcessPipelineHandler) Name() string { return store.TaskTypeProcessPipeline }

func (h *ProcessPipelineHandler) Execute(ctx context.Context, task *store.Task) (map[string]interface{}, error) {
	syncRes, err := h.sync.Execute(ctx, task)
	if err != nil {
		return nil, err
	}
	analyzeRes, err := h.analyze.Execute(ctx, task)
	if err != nil {
		return nil, err
	}

	status := "success"
	if syncRes["status"] == "skipped" && analyzeRes["status"] == "skipped" {
		status = "skipped"
	}
	return map[string]interface{}{
		"status": status,
		"host2":  syncRes,
		"host3":  analyzeRes,
	}, nil
}

// HealthCheckHandler samples the host and appends a health row. The
// same implementation serves health_check (scheduled) and test
// (operator smoke checks).
type HealthCheckHandler struct {
	name    string
	store   *store.Store
	monitor *monitor.Monitor
	logger  *zap.SugaredLogger
}

func NewHealthCheckHandler(st *store.Store, mon *monitor.Monitor, logger *zap.SugaredLogger) *HealthCheckHandler {
	return &HealthCheckHandler{name: store.TaskTypeHealthCheck, store: st, monitor: mon, logger: logger}
}

// NewTestHandler serves the "test" task type operators enqueue to
// verify the pipeline end to end.
func NewTestHandler(st *store.Store, mon *monitor.Monitor, logger *zap.SugaredLogger) *HealthCheckHandler {
	return &HealthCheckHandler{name: "test", store: st, monitor: mon, logger: logger}
}

func (h *HealthCheckHandler) Name() string { return h.name }

func (h *HealthCheckHandler) Execute(ctx context.Context, task *store.Task) (map[string]interface{}, error) {
	snap, err := h.monitor.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	sample := snap.HealthSample()
	sample.DatabaseSizeMB = h.store.DatabaseSizeMB()
	if active, err := h.store.CountActiveTasks(); err == nil {
		sample.ActiveTasks = active
	}
	if err := h.store.SaveSystemHealth(sample); err != nil {
		return nil, err
	}

	alerts := h.monitor.Alerts(snap)
	for _, a := range alerts {
		msg := fmt.Sprintf("%s %s", sym.Health, a.Message)
		if a.Level == monitor.AlertCritical {
			h.logger.Errorw(msg, "metric", a.Metric, "value", a.Value)
		} else {
			h.logger.Warnw(msg, "metric", a.Metric, "value", a.Value)
		}
	}

	return map[string]interface{}{
		"status":         h.monitor.QuickStatus(snap),
		"cpu_percent":    snap.CPU.Percent,
		"memory_percent": snap.Memory.Percent,
		"disk_percent":   snap.Disk.Percent,
		"alerts":         len(alerts),
	}, nil
}

// intParam reads an int out of a decoded params blob, accepting the
// numeric shapes JSON decoding produces.
func intParam(params map[string]interface{}, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	}
	return 0, false
}
