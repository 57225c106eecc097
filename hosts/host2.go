// Package hosts carries the downstream host clients of the multi-host
// layout. Host2 is the analytics database, host3 the analysis service.
// Both run as mocks that answer with the agreed response shapes until
// the real hosts come online; the pipeline handler drives them when
// their config block enables them.
package hosts

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/sym"
)

// Host2Client syncs vacancy rows into the analytics database.
type Host2Client struct {
	host     string
	port     int
	database string
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	connected bool
	lastSync  float64
}

// NewHost2Client builds a client from the host config block. The mock
// connection always succeeds.
func NewHost2Client(cfg config.HostConfig, logger *zap.SugaredLogger) *Host2Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	conn := cfg.Connection
	c := &Host2Client{
		host:     valueOr(conn, "host", "localhost"),
		database: valueOr(conn, "database", "hh_analytics"),
		port:     5432,
		logger:   logger,
	}
	if p, err := strconv.Atoi(conn["port"]); err == nil && p > 0 {
		c.port = p
	}

	c.connected = true
	logger.Infow(sym.DB+" Host2 client ready (mock mode)",
		"host", c.host, "port", c.port, "database", c.database)
	return c
}

// SyncVacancyData pushes a batch of vacancy ids to the analytics host.
// The mock acknowledges every id.
func (c *Host2Client) SyncVacancyData(ctx context.Context, vacancyIDs []int64) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lastSync = nowUnix()
	c.mu.Unlock()

	c.logger.Infow(sym.DB+" Mock host2 sync", "vacancies", len(vacancyIDs))
	return map[string]interface{}{
		"status":       "success",
		"synced_count": len(vacancyIDs),
		"failed_count": 0,
		"timestamp":    nowUnix(),
		"mock_data":    true,
	}, nil
}

// SyncStatus reports the replication state toward host2.
func (c *Host2Client) SyncStatus() map[string]interface{} {
	c.mu.Lock()
	lastSync := c.lastSync
	c.mu.Unlock()

	return map[string]interface{}{
		"last_sync":       lastSync,
		"pending_records": 0,
		"sync_enabled":    true,
		"mock_mode":       true,
		"status":          "healthy",
	}
}

// HealthCheck reports connection state in the shared health shape.
func (c *Host2Client) HealthCheck() map[string]interface{} {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	status := "disconnected"
	if connected {
		status = "healthy"
	}
	return map[string]interface{}{
		"service":    "host2_client",
		"status":     status,
		"connection": connected,
		"mock_mode":  true,
		"host":       c.host,
		"port":       c.port,
		"database":   c.database,
		"timestamp":  nowUnix(),
	}
}

func valueOr(m map[string]string, key, fallback string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return fallback
}

func nowUnix() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
