// Package monitor samples host resource usage. The health task, the
// control surface and the system CLI verb all read the same snapshot.
package monitor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/talocan/hharvest/config"
	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/store"
)

// cpuSampleWindow is the blocking window for one CPU utilization
// sample. Long enough to be meaningful, short enough for request
// handlers.
const cpuSampleWindow = 200 * time.Millisecond

// Monitor samples the host the engine runs on.
type Monitor struct {
	thresholds config.MonitoringConfig
	diskPath   string
	logger     *zap.SugaredLogger
}

// CPUStats is utilization plus sizing context.
type CPUStats struct {
	Percent float64   `json:"percent"`
	Count   int       `json:"count"`
	LoadAvg []float64 `json:"load_avg,omitempty"`
}

// MemoryStats covers physical memory in MB.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	AvailableMB float64 `json:"available_mb"`
	UsedMB      float64 `json:"used_mb"`
	Percent     float64 `json:"percent"`
}

// SwapStats covers swap in MB.
type SwapStats struct {
	TotalMB float64 `json:"total_mb"`
	UsedMB  float64 `json:"used_mb"`
	Percent float64 `json:"percent"`
}

// DiskStats covers the volume holding the engine's data directory.
type DiskStats struct {
	Path    string  `json:"path"`
	TotalGB float64 `json:"total_gb"`
	FreeGB  float64 `json:"free_gb"`
	Percent float64 `json:"percent"`
}

// Snapshot is one point-in-time reading of the host.
type Snapshot struct {
	CPU       CPUStats    `json:"cpu"`
	Memory    MemoryStats `json:"memory"`
	Swap      SwapStats   `json:"swap"`
	Disk      DiskStats   `json:"disk"`
	UptimeSec float64     `json:"uptime_sec"`
	Processes int         `json:"processes"`
	Timestamp float64     `json:"timestamp"`
}

// New builds a monitor with thresholds from the system_monitoring
// config block. Disk usage is measured on the volume holding the
// database.
func New(cfg *config.Config, logger *zap.SugaredLogger) *Monitor {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	diskPath := "."
	if cfg != nil && cfg.GetDatabasePath() != "" {
		diskPath = filepath.Dir(cfg.GetDatabasePath())
	}

	var thresholds config.MonitoringConfig
	if cfg != nil {
		thresholds = cfg.SystemMonitoring
	}

	return &Monitor{
		thresholds: thresholds,
		diskPath:   diskPath,
		logger:     logger,
	}
}

// Snapshot reads the host gauges. Memory is the one reading treated as
// mandatory; every other gauge degrades to its zero value with a debug
// log so one broken probe cannot blind the whole panel.
func (m *Monitor) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Timestamp: float64(time.Now().UnixNano()) / 1e9}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "read virtual memory")
	}
	snap.Memory = MemoryStats{
		TotalMB:     mb(vm.Total),
		AvailableMB: mb(vm.Available),
		UsedMB:      mb(vm.Used),
		Percent:     round1(vm.UsedPercent),
	}

	if percents, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false); err != nil {
		m.logger.Debugw("CPU sample failed", "error", err)
	} else if len(percents) > 0 {
		snap.CPU.Percent = round1(percents[0])
	}
	if count, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPU.Count = count
	}
	if avg, err := load.AvgWithContext(ctx); err != nil {
		m.logger.Debugw("Load average unavailable", "error", err)
	} else {
		snap.CPU.LoadAvg = []float64{avg.Load1, avg.Load5, avg.Load15}
	}

	if sm, err := mem.SwapMemoryWithContext(ctx); err != nil {
		m.logger.Debugw("Swap sample failed", "error", err)
	} else {
		snap.Swap = SwapStats{
			TotalMB: mb(sm.Total),
			UsedMB:  mb(sm.Used),
			Percent: round1(sm.UsedPercent),
		}
	}

	if du, err := disk.UsageWithContext(ctx, m.diskPath); err != nil {
		m.logger.Debugw("Disk sample failed", "path", m.diskPath, "error", err)
		snap.Disk.Path = m.diskPath
	} else {
		snap.Disk = DiskStats{
			Path:    m.diskPath,
			TotalGB: gb(du.Total),
			FreeGB:  gb(du.Free),
			Percent: round1(du.UsedPercent),
		}
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		snap.UptimeSec = float64(uptime)
	}
	if pids, err := process.PidsWithContext(ctx); err == nil {
		snap.Processes = len(pids)
	}

	return snap, nil
}

// HealthSample converts the snapshot into a persistable health row.
// Database size, task counts and host statuses are the caller's to fill.
func (s *Snapshot) HealthSample() *store.HealthSample {
	return &store.HealthSample{
		TS:            s.Timestamp,
		CPUPercent:    s.CPU.Percent,
		MemoryPercent: s.Memory.Percent,
		DiskPercent:   s.Disk.Percent,
	}
}

func mb(bytes uint64) float64 {
	return round1(float64(bytes) / 1024 / 1024)
}

func gb(bytes uint64) float64 {
	return round1(float64(bytes) / 1024 / 1024 / 1024)
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
