package server

import "time"

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100
	// MaxClientMessageQueueSize is the size of per-client message queues
	MaxClientMessageQueueSize = 256
	// BroadcastInterval is how often stats and system snapshots are
	// pushed to connected dashboard clients
	BroadcastInterval = 5 * time.Second
	// ShutdownTimeout is how long to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second
)

// wsEnvelope is the frame pushed to dashboard WebSocket clients.
// Type is one of "stats_update" or "system_update"; Timestamp is a
// unix epoch in seconds.
type wsEnvelope struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp float64     `json:"timestamp"`
}
