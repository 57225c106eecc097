package store

import (
	"database/sql"

	"github.com/talocan/hharvest/errors"
)

// HealthSample is one row of the system_health time series.
type HealthSample struct {
	ID             int64   `json:"id"`
	TS             float64 `json:"ts"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	DiskPercent    float64 `json:"disk_percent"`
	DatabaseSizeMB float64 `json:"database_size_mb"`
	ActiveTasks    int     `json:"active_tasks"`
	HostStatusJSON string  `json:"host_status_json,omitempty"`
}

// SaveSystemHealth appends a health sample.
func (s *Store) SaveSystemHealth(sample *HealthSample) error {
	ts := sample.TS
	if ts == 0 {
		ts = nowUnix()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO system_health
		(ts, cpu_percent, memory_percent, disk_percent, database_size_mb, active_tasks, host_status_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ts, sample.CPUPercent, sample.MemoryPercent, sample.DiskPercent,
		sample.DatabaseSizeMB, sample.ActiveTasks, sample.HostStatusJSON)
	return errors.Wrap(err, "save system health")
}

// GetRecentHealth returns the newest samples, most recent first.
func (s *Store) GetRecentHealth(limit int) ([]HealthSample, error) {
	rows, err := s.db.Query(`
		SELECT id, ts, cpu_percent, memory_percent, disk_percent, database_size_mb, active_tasks, host_status_json
		FROM system_health ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query health samples")
	}
	defer rows.Close()

	var out []HealthSample
	for rows.Next() {
		var h HealthSample
		var cpu, mem, disk, dbSize sql.NullFloat64
		var active sql.NullInt64
		var hostStatus sql.NullString
		if err := rows.Scan(&h.ID, &h.TS, &cpu, &mem, &disk, &dbSize, &active, &hostStatus); err != nil {
			return nil, errors.Wrap(err, "scan health sample")
		}
		h.CPUPercent = cpu.Float64
		h.MemoryPercent = mem.Float64
		h.DiskPercent = disk.Float64
		h.DatabaseSizeMB = dbSize.Float64
		h.ActiveTasks = int(active.Int64)
		h.HostStatusJSON = hostStatus.String
		out = append(out, h)
	}
	return out, errors.Wrap(rows.Err(), "iterate health samples")
}

// CleanupOldHealth trims samples older than retentionDays.
func (s *Store) CleanupOldHealth(retentionDays int) (int, error) {
	cutoff := nowUnix() - float64(retentionDays)*24*3600

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec("DELETE FROM system_health WHERE ts < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "cleanup old health samples")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
