package server

import (
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
)

// maxConfigBody bounds uploaded config documents
const maxConfigBody = 1 << 20

// handleConfigRead serves the raw config file. A missing file answers
// an empty document so a fresh install renders an editable form.
func (s *Server) handleConfigRead(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	raw, err := config.ReadRaw()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeJSON(w, http.StatusOK, map[string]interface{}{})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// handleConfigWrite validates and persists an uploaded config document.
// The previous file survives as a timestamped backup next to it.
func (s *Server) handleConfigWrite(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxConfigBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body: "+err.Error())
		return
	}

	backup, err := config.WriteRaw(raw)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	s.logger.Infow("Config written via control surface", "backup", backup)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"backup": backup,
	})
}

// handleAppLogs serves the tail of the application log. The window is
// clamped to 20..100 lines.
func (s *Server) handleAppLogs(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	limit := queryInt(r.URL.Query(), "limit", 100)
	if limit < 20 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	path := s.cfg.Logging.File
	if path == "" {
		path = "logs/app.log"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "app.log not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	total := len(lines)
	if total == 1 && lines[0] == "" {
		lines = nil
		total = 0
	}

	recent := lines
	if total > limit {
		recent = lines[total-limit:]
	}
	for i := range recent {
		recent[i] = strings.TrimSpace(recent[i])
	}
	if recent == nil {
		recent = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lines":        recent,
		"total_lines":  total,
		"showing_last": len(recent),
	})
}
