package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/store"
)

// handleFilters lists search filters with the legacy enabled field
// normalized onto active, so the dashboard sees one flag regardless of
// which generation wrote the file
func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	filters, err := config.LoadFilters()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	for i := range filters {
		active := filters[i].IsActive()
		filters[i].Active = &active
		filters[i].Enabled = nil
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"filters": filters})
}

// handleFiltersSetActive flips one filter's active flag
func (s *Server) handleFiltersSetActive(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	req := struct {
		FilterID string `json:"filter_id"`
		ID       string `json:"id"`
		Active   *bool  `json:"active"`
	}{}
	if err := readJSON(w, r, &req); err != nil {
		return
	}

	id := req.FilterID
	if id == "" {
		id = req.ID
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "filter_id is required")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	if err := config.SetFilterActive(id, active); err != nil {
		writeStoreError(w, err)
		return
	}

	s.logger.Infow("Filter toggled", "filter_id", id, "active", active)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"filter_id": id,
		"active":    active,
	})
}

// handleFiltersToggleAll enables or disables every filter at once
func (s *Server) handleFiltersToggleAll(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	req := struct {
		Enable *bool `json:"enable"`
	}{}
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			return
		}
	}
	enable := true
	if req.Enable != nil {
		enable = *req.Enable
	}

	count, err := config.ToggleAllFilters(enable)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.logger.Infow("All filters toggled", "active", enable, "count", count)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"active": enable,
		"count":  count,
	})
}

// handleFiltersInvert flips every filter's active flag
func (s *Server) handleFiltersInvert(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	count, err := config.InvertFilters()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.logger.Infow("Filters inverted", "count", count)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"count":  count,
	})
}

// handleFiltersLoadNow enqueues an immediate load_vacancies task per
// selected filter. With no filter_ids in the body, every active filter
// is harvested.
func (s *Server) handleFiltersLoadNow(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	req := struct {
		FilterIDs []string `json:"filter_ids"`
	}{}
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &req); err != nil {
			return
		}
	}

	filters, err := config.LoadFilters()
	if err != nil {
		writeStoreError(w, err)
		return
	}

	var selected []config.Filter
	if len(req.FilterIDs) > 0 {
		wanted := make(map[string]bool, len(req.FilterIDs))
		for _, id := range req.FilterIDs {
			wanted[id] = true
		}
		for _, f := range filters {
			if wanted[f.ID] {
				selected = append(selected, f)
			}
		}
	} else {
		for _, f := range filters {
			if f.IsActive() {
				selected = append(selected, f)
			}
		}
	}

	if len(selected) == 0 {
		writeError(w, http.StatusBadRequest, "no filters selected")
		return
	}

	chunkSize := s.cfg.TaskDispatcher.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 500
	}
	timeoutSec := s.cfg.TaskDispatcher.DefaultTimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = 3600
	}

	created := make([]map[string]string, 0, len(selected))
	for _, f := range selected {
		params := map[string]interface{}{
			"filter":     f,
			"chunk_size": chunkSize,
		}
		if mp, ok := f.Params["max_pages"]; ok {
			params["max_pages"] = mp
		}

		id, err := s.enqueueTask(store.TaskTypeLoadVacancies, params, nil, timeoutSec)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		created = append(created, map[string]string{
			"task_id":   id,
			"filter_id": f.ID,
			"name":      f.Name,
		})
	}

	s.logger.Infow("On-demand load queued", "count", len(created))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"count":   len(created),
		"created": created,
	})
}

// enqueueTask routes task creation through the in-process dispatcher
// when one is attached, otherwise writes the durable queue directly for
// an external daemon to pick up
func (s *Server) enqueueTask(taskType string, params map[string]interface{}, scheduleAt *float64, timeoutSec int) (string, error) {
	if s.dispatcher != nil {
		return s.dispatcher.AddTask(taskType, params, scheduleAt, timeoutSec)
	}

	id := uuid.NewString()
	if err := s.store.CreateTask(id, taskType, params, scheduleAt, timeoutSec); err != nil {
		return "", err
	}
	return id, nil
}

// handleRecentVacancies serves the latest harvested postings
func (s *Server) handleRecentVacancies(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := queryInt(r.URL.Query(), "limit", 20)
	if limit <= 0 {
		limit = 20
	}

	vacancies, err := s.store.GetRecentVacancies(limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	views := make([]map[string]interface{}, 0, len(vacancies))
	for _, v := range vacancies {
		views = append(views, map[string]interface{}{
			"id":            v.ID,
			"hh_id":         v.HHID,
			"name":          v.Title,
			"employer_name": v.Company,
			"area_name":     v.Area,
			"published_at":  v.PublishedAt,
			"url":           v.URL,
			"salary_text":   nil,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"vacancies": views})
}
