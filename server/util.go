package server

import (
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// wsUpgrader builds a WebSocket upgrader with origin checking from config
func (s *Server) wsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin validates request origin against configured allowed origins
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	// Allow requests with no origin header (e.g., direct WebSocket clients, testing)
	if origin == "" {
		return true
	}

	// Prefix matching so any port number is accepted
	for _, allowed := range s.cfg.GetAllowedOrigins() {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}

	return false
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// round1 rounds to one decimal place
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// tail returns at most the last n characters of s
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// queryInt parses an integer query parameter, falling back to def when
// absent or malformed
func queryInt(q url.Values, key string, def int) int {
	raw := q.Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// jsonNumber coerces a decoded JSON value to float64
func jsonNumber(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

