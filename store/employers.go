package store

import (
	"database/sql"

	"github.com/talocan/hharvest/errors"
)

// Employer is a join target for vacancies, keyed by upstream hh_id.
type Employer struct {
	ID        int64    `json:"id"`
	HHID      string   `json:"hh_id"`
	Name      string   `json:"name"`
	URL       string   `json:"url,omitempty"`
	RawJSON   string   `json:"-"`
	CreatedAt *float64 `json:"created_at,omitempty"`
	UpdatedAt *float64 `json:"updated_at,omitempty"`
}

// SaveEmployer upserts by hh_id and returns the local row id.
func (s *Store) SaveEmployer(e *Employer) (int64, error) {
	if e.HHID == "" {
		return 0, errors.NewInvalidRequestError("employer missing hh_id")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := nowUnix()

	var existingID int64
	err := s.db.QueryRow("SELECT id FROM employers WHERE hh_id = ?", e.HHID).Scan(&existingID)
	if err == nil {
		_, err = s.db.Exec(
			"UPDATE employers SET name = ?, url = ?, raw_json = ?, updated_at = ? WHERE hh_id = ?",
			e.Name, e.URL, e.RawJSON, now, e.HHID)
		if err != nil {
			return 0, errors.Wrapf(err, "update employer %s", e.HHID)
		}
		return existingID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, errors.Wrapf(err, "lookup employer %s", e.HHID)
	}

	res, err := s.db.Exec(
		"INSERT INTO employers (hh_id, name, url, raw_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		e.HHID, e.Name, e.URL, e.RawJSON, now, now)
	if err != nil {
		return 0, errors.Wrapf(err, "insert employer %s", e.HHID)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// GetMissingEmployerIDs lists employer ids referenced by vacancies but
// absent from the employers table. Feeds the load_employers job.
func (s *Store) GetMissingEmployerIDs(limit int) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT v.employer_id
		FROM vacancies v
		WHERE v.employer_id IS NOT NULL AND v.employer_id != ''
		  AND NOT EXISTS (
			SELECT 1 FROM employers e WHERE e.hh_id = v.employer_id
		  )
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query missing employer ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan employer id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate employer ids")
}

// CountEmployers returns the total employers row count.
func (s *Store) CountEmployers() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM employers").Scan(&count); err != nil {
		return 0, errors.Wrap(err, "count employers")
	}
	return count, nil
}
