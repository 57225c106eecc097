package server

import (
	"fmt"
	"net/http"
	"time"
)

// HandleWebSocket upgrades a dashboard connection and attaches it to the
// hub. The client immediately receives a stats snapshot, then joins the
// periodic broadcast feed.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := s.wsUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("WebSocket upgrade failed",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	client := &Client{
		server: s,
		conn:   conn,
		send:   make(chan wsEnvelope, MaxClientMessageQueueSize),
		id:     fmt.Sprintf("%s_%d", r.RemoteAddr, time.Now().UnixNano()),
	}

	// Send the initial snapshot BEFORE starting writePump (avoid
	// concurrent writes on the connection)
	initial := wsEnvelope{
		Type:      "stats_update",
		Data:      s.statsPayload(r.Context()),
		Timestamp: nowUnix(),
	}
	if err := conn.WriteJSON(initial); err != nil {
		s.logger.Debugw("Failed to send initial stats snapshot",
			"client_id", client.id,
			"error", err,
		)
	}

	s.register <- client

	// Start goroutines for reading and writing
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		client.readPump()
	}()
	go func() {
		defer s.wg.Done()
		client.writePump()
	}()
}
