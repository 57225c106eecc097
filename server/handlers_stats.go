package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/talocan/hharvest/monitor"
	"github.com/talocan/hharvest/store"
	"github.com/talocan/hharvest/version"
)

// handleVersion reports the build version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"version": version.Get().Version})
}

// handleStats serves the combined queue/vacancy/system snapshot that
// drives the dashboard header. Failures degrade rather than error: the
// dashboard keeps polling, so a broken probe answers 200 with
// status=degraded and the last known system payload.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.statsPayload(r.Context()))
}

// statsPayload assembles the stats_update document shared by /api/stats
// and the WebSocket feed
func (s *Server) statsPayload(ctx context.Context) map[string]interface{} {
	stats, err := s.store.GetStats()
	if err != nil {
		s.logger.Warnw("Stats collection failed, serving degraded payload", "error", err)
		return s.degradedStats(err)
	}

	sysInfo, sysErr := s.systemInfo(ctx)
	if sysErr != nil {
		s.logger.Debugw("System probe failed, reusing last known payload", "error", sysErr)
		sysInfo = s.lastKnownSystemInfo()
	} else {
		s.mu.Lock()
		s.lastSystemInfo = sysInfo
		s.mu.Unlock()
	}

	return map[string]interface{}{
		"tasks":       stats.Tasks,
		"vacancies":   stats.Vacancies,
		"timestamp":   stats.Timestamp,
		"system_info": sysInfo,
		"status":      "ok",
	}
}

func (s *Server) degradedStats(err error) map[string]interface{} {
	return map[string]interface{}{
		"tasks":       map[string]int{},
		"vacancies":   store.VacancyStats{},
		"timestamp":   time.Now().Format(time.RFC3339),
		"system_info": s.lastKnownSystemInfo(),
		"status":      "degraded",
		"error":       err.Error(),
	}
}

func (s *Server) lastKnownSystemInfo() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSystemInfo != nil {
		return s.lastSystemInfo
	}
	return map[string]interface{}{"db_size": int64(0)}
}

// systemInfo builds the system_info block: host metrics plus database
// size and worker occupancy
func (s *Server) systemInfo(ctx context.Context) (map[string]interface{}, error) {
	snap, err := s.monitor.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	activeWorkers, err := s.store.CountActiveWorkers()
	if err != nil {
		activeWorkers = 0
	}

	info := map[string]interface{}{
		"cpu_percent":         snap.CPU.Percent,
		"memory_percent":      snap.Memory.Percent,
		"memory_total_mb":     snap.Memory.TotalMB,
		"memory_available_mb": snap.Memory.AvailableMB,
		"disk_percent":        snap.Disk.Percent,
		"disk_free_gb":        snap.Disk.FreeGB,
		"db_size":             int64(s.store.DatabaseSizeMB() * 1024 * 1024),
		"active_workers":      activeWorkers,
		"workers_configured":  s.cfg.TaskDispatcher.MaxWorkers,
	}
	if len(snap.CPU.LoadAvg) == 3 {
		info["load_avg"] = map[string]float64{
			"1m":  snap.CPU.LoadAvg[0],
			"5m":  snap.CPU.LoadAvg[1],
			"15m": snap.CPU.LoadAvg[2],
		}
	}
	return info, nil
}

// handleSystem serves the raw host snapshot
func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	snap, err := s.monitor.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleSystemHealthIndicator backs the dashboard traffic-light widget.
// Probe failures still answer 200: a gray "error" light is itself a
// reading.
func (s *Server) handleSystemHealthIndicator(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	snap, err := s.monitor.Snapshot(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":         "error",
			"color":          "#6c757d",
			"memory_percent": 0,
			"cpu_percent":    0,
			"disk_percent":   0,
			"details":        "Error: " + err.Error(),
		})
		return
	}

	status, color := healthIndicator(s.monitor.QuickStatus(snap))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"color":          color,
		"memory_percent": snap.Memory.Percent,
		"cpu_percent":    snap.CPU.Percent,
		"disk_percent":   snap.Disk.Percent,
		"details": fmt.Sprintf("RAM: %.1f%%, CPU: %.1f%%, Disk: %.1f%%",
			snap.Memory.Percent, snap.CPU.Percent, snap.Disk.Percent),
	})
}

// healthIndicator maps a monitor status onto the widget label and color
func healthIndicator(status string) (string, string) {
	switch status {
	case monitor.StatusCritical:
		return "critical", "#dc3545"
	case monitor.StatusWarning:
		return "warning", "#ffc107"
	default:
		return "good", "#28a745"
	}
}

// handleHealthCheck answers liveness probes. Unlike the indicator
// widget this one maps failure onto 503 so external checks can alert.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := s.store.GetStats()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"database":        "connected",
		"tasks_processed": stats.Tasks[store.TaskStatusCompleted],
		"uptime":          "running",
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}
