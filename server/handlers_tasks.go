package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/store"
)

// taskView decorates a queue row with a human-readable creation time
type taskView struct {
	store.Task
	CreatedAtFormatted string `json:"created_at_formatted,omitempty"`
}

// handleTasks lists queue rows newest first. Supports ?status=a,b,c
// (comma-separated), ?limit and ?offset.
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	var statuses []string
	if raw := q.Get("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			if st = strings.TrimSpace(st); st != "" {
				statuses = append(statuses, st)
			}
		}
	}

	limit := queryInt(q, "limit", 50)
	offset := queryInt(q, "offset", 0)
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	tasks, err := s.store.GetTasksByStatuses(statuses, limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView{
			Task:               t,
			CreatedAtFormatted: time.Unix(int64(t.CreatedAt), 0).Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": views,
		"total": len(views),
	})
}

// handleTaskDetail serves a single task by id: /api/task/{id}
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	parts := extractPathParts(r.URL.Path, "/api/task/")
	if len(parts) < 1 || parts[0] == "" {
		writeError(w, http.StatusBadRequest, "Task id is required")
		return
	}

	task, err := s.store.GetTask(parts[0])
	if err != nil {
		if errors.IsNotFoundError(err) {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, task)
}

// handleProcesses renders running tasks as the dashboard's process list
func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	running, err := s.store.GetTasksByStatuses([]string{store.TaskStatusRunning}, 200, 0)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	processes := make([]map[string]interface{}, 0, len(running))
	for _, t := range running {
		processes = append(processes, processView(t))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"active_processes": processes})
}

// processView folds a running task's progress payload into the shape the
// process list renders. ETA comes from observed throughput since start;
// nil until there is enough signal to estimate.
func processView(t store.Task) map[string]interface{} {
	var progress map[string]interface{}
	if t.ProgressJSON != "" {
		_ = json.Unmarshal([]byte(t.ProgressJSON), &progress)
	}

	total := jsonNumber(progress["total"])
	processed := jsonNumber(progress["processed"])

	var pct float64
	var eta interface{}
	if total > 0 {
		pct = processed / total * 100
		if t.StartedAt != nil && processed > 0 {
			elapsed := nowUnix() - *t.StartedAt
			if elapsed > 0 {
				speed := processed / elapsed
				if speed > 0 {
					eta = int(math.Round((total - processed) / speed / 60))
				}
			}
		}
	}

	return map[string]interface{}{
		"id":               t.ID,
		"name":             t.Type + " Task",
		"status":           t.Status,
		"progress":         round1(pct),
		"eta_minutes":      eta,
		"speed_per_minute": jsonNumber(progress["speed_per_minute"]),
		"total_items":      int(total),
		"processed_items":  int(processed),
	}
}

// handleQueueClear deletes tasks in a given status (default pending).
// Running tasks are protected; the store rejects the attempt.
func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	req := struct {
		Status string `json:"status"`
	}{Status: store.TaskStatusPending}
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			return
		}
	}
	if req.Status == "" {
		req.Status = store.TaskStatusPending
	}

	deleted, err := s.store.ClearTasksByStatus(req.Status)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.logger.Infow("Queue cleared",
		"status", req.Status,
		"deleted", deleted,
	)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"deleted":        deleted,
		"cleared_status": req.Status,
	})
}

// handleWorkersStatus reports per-worker queue occupancy
func (s *Server) handleWorkersStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := s.store.WorkerStats()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	active := 0
	for _, ws := range stats {
		if ws.Running > 0 {
			active++
		}
	}
	if stats == nil {
		stats = []store.WorkerStat{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workers":        stats,
		"active_workers": active,
		"total_workers":  s.cfg.TaskDispatcher.MaxWorkers,
	})
}

// handleWorkersFreeze pauses or resumes dispatch. The flag is persisted
// so a daemon restart keeps the queue frozen.
func (s *Server) handleWorkersFreeze(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	req := struct {
		Frozen *bool `json:"frozen"`
	}{}
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			return
		}
	}
	frozen := true
	if req.Frozen != nil {
		frozen = *req.Frozen
	}

	if err := config.UpdateFrozen(frozen); err != nil {
		writeStoreError(w, err)
		return
	}
	s.cfg.TaskDispatcher.Frozen = frozen
	if s.dispatcher != nil {
		s.dispatcher.SetFrozen(frozen)
	}

	s.logger.Infow("Dispatch freeze toggled", "frozen", frozen)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"frozen": frozen,
	})
}

// handleScheduleNext predicts the next scheduled harvest slot. Slots sit
// on whole-hour boundaries every frequency_hours.
func (s *Server) handleScheduleNext(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	freq := s.cfg.TaskDispatcher.FrequencyHours
	if freq < 1 {
		freq = 1
	}

	next := time.Now().Truncate(time.Hour).Add(time.Duration(freq) * time.Hour)

	writeJSON(w, http.StatusOK, map[string]string{
		"next": next.Format("15:04"),
	})
}
