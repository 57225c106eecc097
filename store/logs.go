package store

import (
	"database/sql"

	"github.com/talocan/hharvest/errors"
	"github.com/talocan/hharvest/logger"
)

// LogRecord is one centralized log row.
type LogRecord struct {
	ID          int64   `json:"id"`
	TS          float64 `json:"ts"`
	Level       string  `json:"level"`
	Module      string  `json:"module,omitempty"`
	Func        string  `json:"func,omitempty"`
	Message     string  `json:"message"`
	ContextJSON string  `json:"context_json,omitempty"`
}

// WriteLogEntry implements logger.Sink. It must not log through the
// global logger; failures surface as a plain return for the sink core
// to swallow.
func (s *Store) WriteLogEntry(e logger.Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO logs (ts, level, module, func, message, context_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.TS, e.Level, nullIfEmpty(e.Module), nullIfEmpty(e.Func), e.Message, nullIfEmpty(e.Context))
	return err
}

// TailLogs returns the newest log rows, most recent first, optionally
// filtered by level.
func (s *Store) TailLogs(limit int, level string) ([]LogRecord, error) {
	query := "SELECT id, ts, level, module, func, message, context_json FROM logs"
	args := []interface{}{}
	if level != "" {
		query += " WHERE level = ?"
		args = append(args, level)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query logs")
	}
	defer rows.Close()

	var out []LogRecord
	for rows.Next() {
		var r LogRecord
		var module, fn, context sql.NullString
		if err := rows.Scan(&r.ID, &r.TS, &r.Level, &module, &fn, &r.Message, &context); err != nil {
			return nil, errors.Wrap(err, "scan log row")
		}
		r.Module = module.String
		r.Func = fn.String
		r.ContextJSON = context.String
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate log rows")
}

// CleanupOldLogs trims log rows older than retentionDays.
func (s *Store) CleanupOldLogs(retentionDays int) (int, error) {
	cutoff := nowUnix() - float64(retentionDays)*24*3600

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec("DELETE FROM logs WHERE ts < ?", cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "cleanup old logs")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
