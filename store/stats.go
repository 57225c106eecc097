package store

import (
	"database/sql"
	"os"
	"time"

	"github.com/talocan/hharvest/errors"
)

// VacancyStats is the vacancy block of GetStats.
type VacancyStats struct {
	Total        int     `json:"total_vacancies"`
	Processed    int     `json:"processed_vacancies"`
	Today        int     `json:"today_vacancies"`
	AddedLastRun int     `json:"added_last_run_10m_window"`
	LastRunAt    *string `json:"last_run_at"`
}

// Stats bundles task and vacancy counters for the CLI and dashboard.
type Stats struct {
	Tasks     map[string]int `json:"tasks"`
	Vacancies VacancyStats   `json:"vacancies"`
	Timestamp string         `json:"timestamp"`
}

// GetStats returns per-status task counts for the last 24 hours, the
// vacancy totals, and the "added during the last load run" metric: how
// many vacancies were created in the 10-minute window ending at the
// most recent load_vacancies task's latest known timestamp.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{
		Tasks:     map[string]int{},
		Timestamp: time.Now().Format(time.RFC3339),
	}

	rows, err := s.db.Query(`
		SELECT status, COUNT(*) AS count
		FROM tasks
		WHERE created_at > strftime('%s','now','-1 day')
		GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "query task stats")
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan task stat")
		}
		stats.Tasks[status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate task stats")
	}

	err = s.db.QueryRow(`
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN is_processed = 1 THEN 1 END) AS processed,
			COUNT(CASE WHEN created_at > strftime('%s','now','-1 day') THEN 1 END) AS today
		FROM vacancies`).Scan(&stats.Vacancies.Total, &stats.Vacancies.Processed, &stats.Vacancies.Today)
	if err != nil {
		return nil, errors.Wrap(err, "query vacancy stats")
	}

	if err := s.fillLastRunWindow(&stats.Vacancies); err != nil {
		// Derived metric only; the rest of the stats are still good.
		s.warnw("Failed to compute last-run window", "error", err)
	}

	return stats, nil
}

// fillLastRunWindow computes added_last_run_10m_window and last_run_at.
// The window anchor is max(created_at, started_at, finished_at) of the
// newest load_vacancies task.
func (s *Store) fillLastRunWindow(vs *VacancyStats) error {
	var createdAt sql.NullFloat64
	var startedAt, finishedAt sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT created_at, started_at, finished_at
		FROM tasks
		WHERE type = 'load_vacancies'
		ORDER BY COALESCE(finished_at, started_at, created_at) DESC
		LIMIT 1`).Scan(&createdAt, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return errors.Wrap(err, "query last load run")
	}

	var lastTS float64
	for _, c := range []sql.NullFloat64{createdAt, startedAt, finishedAt} {
		if c.Valid && c.Float64 > lastTS {
			lastTS = c.Float64
		}
	}
	if lastTS == 0 {
		return nil
	}

	windowStart := lastTS - 600.0
	var added int
	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM vacancies WHERE created_at BETWEEN ? AND ?",
		windowStart, lastTS).Scan(&added)
	if err != nil {
		return errors.Wrap(err, "count window vacancies")
	}

	vs.AddedLastRun = added
	iso := time.Unix(int64(lastTS), 0).Format(time.RFC3339)
	vs.LastRunAt = &iso
	return nil
}

// ChangesStats summarizes recent corpus growth for the CLI.
type ChangesStats struct {
	Vacancies struct {
		NewVacancies         int `json:"new_vacancies"`
		NewVersions          int `json:"new_versions"`
		DuplicatesSkipped    int `json:"duplicates_skipped"`
		EfficiencyPercentage int `json:"efficiency_percentage"`
		TotalChanges         int `json:"total_changes"`
	} `json:"vacancies"`
	Employers struct {
		TotalChanges int `json:"total_changes"`
	} `json:"employers"`
	Summary struct {
		TotalOperations int `json:"total_operations"`
	} `json:"summary"`
}

// GetCombinedChangesStats counts vacancies and employers added in the
// last N days.
func (s *Store) GetCombinedChangesStats(days int) (*ChangesStats, error) {
	if days < 1 {
		days = 1
	}
	window := -float64(days) * 24 * 3600

	var out ChangesStats

	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM vacancies WHERE created_at > ?", nowUnix()+window,
	).Scan(&out.Vacancies.NewVacancies)
	if err != nil {
		return nil, errors.Wrap(err, "count new vacancies")
	}

	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM employers WHERE created_at > ?", nowUnix()+window,
	).Scan(&out.Employers.TotalChanges)
	if err != nil {
		return nil, errors.Wrap(err, "count new employers")
	}

	out.Vacancies.TotalChanges = out.Vacancies.NewVacancies
	if out.Vacancies.NewVacancies > 0 {
		out.Vacancies.EfficiencyPercentage = 100
	}
	out.Summary.TotalOperations = out.Vacancies.NewVacancies
	return &out, nil
}

// DatabaseSizeMB reports the database file size. Prefers the live page
// count so WAL contents are included; falls back to a file stat.
func (s *Store) DatabaseSizeMB() float64 {
	var pageCount, pageSize float64
	err1 := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	err2 := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	if err1 == nil && err2 == nil && pageCount > 0 && pageSize > 0 {
		return pageCount * pageSize / (1024 * 1024)
	}

	if info, err := os.Stat(s.path); err == nil {
		return float64(info.Size()) / (1024 * 1024)
	}
	return 0
}
