package server

import "net/http"

// setupRoutes configures all HTTP handlers on a dedicated mux
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// Live update feed
	mux.HandleFunc("/ws", s.corsMiddleware(s.HandleWebSocket))

	// Read surfaces
	mux.HandleFunc("/api/version", s.corsMiddleware(s.handleVersion))
	mux.HandleFunc("/api/stats", s.corsMiddleware(s.handleStats))
	mux.HandleFunc("/api/stats/system_health", s.corsMiddleware(s.handleSystemHealthIndicator))
	mux.HandleFunc("/api/tasks", s.corsMiddleware(s.handleTasks))
	mux.HandleFunc("/api/task/", s.corsMiddleware(s.handleTaskDetail)) // /api/task/{id}
	mux.HandleFunc("/api/vacancies/recent", s.corsMiddleware(s.handleRecentVacancies))
	mux.HandleFunc("/api/system", s.corsMiddleware(s.handleSystem))
	mux.HandleFunc("/api/system/health", s.corsMiddleware(s.handleHealthCheck))
	mux.HandleFunc("/api/processes", s.corsMiddleware(s.handleProcesses))
	mux.HandleFunc("/api/schedule/next", s.corsMiddleware(s.handleScheduleNext))
	mux.HandleFunc("/api/workers/status", s.corsMiddleware(s.handleWorkersStatus))
	mux.HandleFunc("/api/logs/app", s.corsMiddleware(s.handleAppLogs))

	// Queue and worker controls
	mux.HandleFunc("/api/workers/freeze", s.corsMiddleware(s.handleWorkersFreeze))
	mux.HandleFunc("/api/queue/clear", s.corsMiddleware(s.handleQueueClear))

	// Filter management
	mux.HandleFunc("/api/filters", s.corsMiddleware(s.handleFilters))
	mux.HandleFunc("/api/filters/list", s.corsMiddleware(s.handleFilters))
	mux.HandleFunc("/api/filters/set-active", s.corsMiddleware(s.handleFiltersSetActive))
	mux.HandleFunc("/api/filters/toggle-all", s.corsMiddleware(s.handleFiltersToggleAll))
	mux.HandleFunc("/api/filters/invert", s.corsMiddleware(s.handleFiltersInvert))
	mux.HandleFunc("/api/filters/load-now", s.corsMiddleware(s.handleFiltersLoadNow))

	// Daemon lifecycle
	mux.HandleFunc("/api/daemon/status", s.corsMiddleware(s.handleDaemonStatus))
	mux.HandleFunc("/api/daemon/tasks/active", s.corsMiddleware(s.handleDaemonTasksActive))
	mux.HandleFunc("/api/daemon/start", s.corsMiddleware(s.handleDaemonStart))
	mux.HandleFunc("/api/daemon/stop", s.corsMiddleware(s.handleDaemonStop))
	mux.HandleFunc("/api/daemon/restart", s.corsMiddleware(s.handleDaemonRestart))

	// Config file access
	mux.HandleFunc("/api/config/read", s.corsMiddleware(s.handleConfigRead))
	mux.HandleFunc("/api/config/write", s.corsMiddleware(s.handleConfigWrite))

	return mux
}

// corsMiddleware adds CORS headers to HTTP responses using configured
// allowed origins. Uses the same origin validation as WebSocket upgrades.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}
