// Package server exposes the harvesting pipeline over HTTP: a JSON API
// for the dashboard and CLI, plus a WebSocket feed that streams task
// statistics and system health to connected clients.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/dispatch"
	"github.com/talocan/hharvest/monitor"
	"github.com/talocan/hharvest/store"
)

// Server serves the dashboard API and pushes live updates over WebSocket
type Server struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher // nil when running beside an external daemon
	monitor    *monitor.Monitor
	cfg        *config.Config

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan wsEnvelope
	mu         sync.RWMutex

	// lastSystemInfo caches the most recent successful system payload so
	// /api/stats can answer in degraded mode when a probe fails
	lastSystemInfo map[string]interface{}

	httpServer *http.Server
	logger     *zap.SugaredLogger

	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	broadcastDrops atomic.Int64
}

// handleClientRegister handles a new client connection
func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()

	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		client.close()
		return
	}

	s.clients[client] = true
	totalClients := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected",
		"client_id", client.id,
		"total_clients", totalClients,
	)
}

// handleClientUnregister handles a client disconnection
func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		totalClients := len(s.clients)
		s.mu.Unlock()

		client.close()

		s.logger.Infow("Client disconnected",
			"client_id", client.id,
			"total_clients", totalClients,
		)
	} else {
		s.mu.Unlock()
	}
}

// removeSlowClient removes a client that can't keep up with broadcasts.
// Only called from the hub goroutine, so closing channels directly is safe.
func (s *Server) removeSlowClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		s.mu.Unlock()
	} else {
		s.mu.Unlock()
		return // Already removed
	}

	client.close()

	s.logger.Warnw("Client send channel full, removing client",
		"client_id", client.id,
		"total_drops", s.broadcastDrops.Load(),
	)
}

// handleBroadcast fans an envelope out to all connected clients
func (s *Server) handleBroadcast(msg wsEnvelope) {
	s.mu.RLock()
	targets := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		targets = append(targets, client)
	}
	s.mu.RUnlock()

	for _, client := range targets {
		if !client.trySend(msg) {
			s.broadcastDrops.Add(1)
			s.removeSlowClient(client)
		}
	}
}

// Run starts the server hub event loop. All client registration and
// channel sends happen on this goroutine.
func (s *Server) Run() {
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debugw("Server hub stopping due to context cancellation")
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		case msg := <-s.broadcast:
			s.handleBroadcast(msg)
		}
	}
}

// Broadcast queues a typed message for delivery to all connected clients.
// Safe to call from any goroutine; drops the message when the hub queue
// is full rather than blocking the caller.
func (s *Server) Broadcast(msgType string, data interface{}) {
	msg := wsEnvelope{
		Type:      msgType,
		Data:      data,
		Timestamp: nowUnix(),
	}

	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.broadcastDrops.Add(1)
		s.logger.Warnw("Broadcast queue full, dropping message", "type", msgType)
	}
}

// clientCount reports how many WebSocket clients are connected
func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
