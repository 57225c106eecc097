package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	shellquote "github.com/kballard/go-shellquote"

	"github.com/talocan/hharvest/sym"
)

// Start runs the hub, the periodic broadcaster, and the HTTP listener.
// It blocks until the listener stops or fails.
func (s *Server) Start() error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Run()
	}()

	s.startBroadcaster()

	host := s.cfg.WebInterface.Host
	port := s.cfg.WebInterface.Port
	addr := fmt.Sprintf("%s:%d", host, port)

	// Record the panel in the process registry so status surfaces can
	// report it alongside the daemon
	if err := s.store.RegisterProcess("web_server", os.Getpid(), shellquote.Join(os.Args...), host, &port); err != nil {
		s.logger.Warnw("Failed to register web server process", "error", err)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.setupRoutes(),
	}

	s.logger.Infow(fmt.Sprintf("%s Control surface listening", sym.Web),
		"addr", addr,
	)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// startBroadcaster pushes stats and system snapshots to connected
// clients on a fixed interval. Quiet when nobody is connected.
func (s *Server) startBroadcaster() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(BroadcastInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				if s.clientCount() == 0 {
					continue
				}
				s.Broadcast("stats_update", s.statsPayload(s.ctx))
				if snap, err := s.monitor.Snapshot(s.ctx); err == nil {
					s.Broadcast("system_update", snap)
				}
			}
		}
	}()
}

// Stop gracefully shuts down the listener, client connections, and
// background goroutines.
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warnw("HTTP server shutdown error", "error", err)
		}
	}

	// Close all client connections BEFORE cancelling context so the
	// read pumps unblock and unregister cleanly
	s.mu.Lock()
	clientsToClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clientsToClose = append(clientsToClose, client)
		delete(s.clients, client)
	}
	s.mu.Unlock()

	if len(clientsToClose) > 0 {
		s.logger.Infow("Closing client connections", "count", len(clientsToClose))
		for _, client := range clientsToClose {
			client.conn.Close()
		}
	}

	if s.cancel != nil {
		s.cancel()
	}

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("All goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out, forcing exit",
			"timeout", ShutdownTimeout,
		)
	}

	if err := s.store.UpdateProcessStatus("web_server", "stopped"); err != nil {
		s.logger.Debugw("Failed to update process status", "error", err)
	}

	s.logger.Infow(fmt.Sprintf("%s Control surface shutdown complete", sym.Halt),
		"broadcast_drops", s.broadcastDrops.Load(),
	)

	return nil
}
