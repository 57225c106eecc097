package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/talocan/hharvest/errors"
)

// Vacancy is one deduplicated listing. hh_id is the upstream identity;
// the row id is local. content_hash covers the fields that matter for
// change detection, so reordered or re-cased payloads do not count as
// updates.
type Vacancy struct {
	ID          int64    `json:"id"`
	HHID        string   `json:"hh_id"`
	Title       string   `json:"title"`
	Company     string   `json:"company"`
	EmployerID  string   `json:"employer_id,omitempty"`
	SalaryFrom  *int     `json:"salary_from,omitempty"`
	SalaryTo    *int     `json:"salary_to,omitempty"`
	Currency    string   `json:"currency,omitempty"`
	Experience  string   `json:"experience,omitempty"`
	Schedule    string   `json:"schedule,omitempty"`
	Employment  string   `json:"employment,omitempty"`
	Description string   `json:"description,omitempty"`
	KeySkills   []string `json:"key_skills,omitempty"`
	Area        string   `json:"area,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
	URL         string   `json:"url,omitempty"`
	ProcessedAt *float64 `json:"processed_at,omitempty"`
	FilterID    string   `json:"filter_id,omitempty"`
	ContentHash string   `json:"content_hash,omitempty"`
	RawJSON     string   `json:"-"`
	CreatedAt   *float64 `json:"created_at,omitempty"`
	UpdatedAt   *float64 `json:"updated_at,omitempty"`
	IsProcessed bool     `json:"is_processed"`
	SyncedHost2 bool     `json:"synced_host2"`
}

// VacancySummary is the compact shape the dashboard lists.
type VacancySummary struct {
	ID          int64    `json:"id"`
	HHID        string   `json:"hh_id"`
	Title       string   `json:"title"`
	Company     string   `json:"company"`
	Area        string   `json:"area,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
	URL         string   `json:"url,omitempty"`
	FilterID    string   `json:"filter_id,omitempty"`
	CreatedAt   *float64 `json:"created_at,omitempty"`
}

// CalculateHash derives the dedup hash from the content fields:
// everything lowercased and trimmed, skills sorted, salary bounds
// defaulting to 0, currency defaulting to RUR, description capped at
// 500 characters. SHA-256 of the pipe-joined parts, first 32 hex chars.
func (v *Vacancy) CalculateHash() string {
	skills := make([]string, 0, len(v.KeySkills))
	for _, s := range v.KeySkills {
		skills = append(skills, strings.ToLower(strings.TrimSpace(s)))
	}
	sort.Strings(skills)

	desc := []rune(v.Description)
	if len(desc) > 500 {
		desc = desc[:500]
	}

	currency := v.Currency
	if currency == "" {
		currency = "RUR"
	}

	parts := []string{
		strings.ToLower(strings.TrimSpace(v.Title)),
		strings.ToLower(strings.TrimSpace(v.Company)),
		strconv.Itoa(intOrZero(v.SalaryFrom)),
		strconv.Itoa(intOrZero(v.SalaryTo)),
		strings.ToUpper(currency),
		strings.ToLower(v.Experience),
		strings.ToLower(v.Schedule),
		strings.ToLower(v.Employment),
		strings.Join(skills, ","),
		strings.ToLower(strings.TrimSpace(string(desc))),
		strings.ToLower(strings.TrimSpace(v.Area)),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:32]
}

// SaveVacancy upserts keyed on hh_id. Returns false when the stored
// content hash already matches (nothing written). Updates never touch
// created_at, processed_at, or the processed/synced flags.
func (s *Store) SaveVacancy(v *Vacancy) (bool, error) {
	if v.HHID == "" {
		return false, errors.NewInvalidRequestError("vacancy missing hh_id")
	}
	hash := v.CalculateHash()

	skillsJSON, err := json.Marshal(v.KeySkills)
	if err != nil {
		return false, errors.Wrap(err, "marshal key skills")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var existingHash sql.NullString
	err = s.db.QueryRow("SELECT content_hash FROM vacancies WHERE hh_id = ?", v.HHID).Scan(&existingHash)
	exists := true
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return false, errors.Wrapf(err, "lookup vacancy %s", v.HHID)
		}
		exists = false
	}

	if exists && existingHash.String == hash {
		s.debugw("Vacancy unchanged", "hh_id", v.HHID)
		return false, nil
	}

	now := nowUnix()
	v.ContentHash = hash

	if exists {
		_, err = s.db.Exec(`
			UPDATE vacancies SET
				title = ?, company = ?, employer_id = ?,
				salary_from = ?, salary_to = ?, currency = ?,
				experience = ?, schedule = ?, employment = ?,
				description = ?, key_skills = ?, area = ?,
				published_at = ?, url = ?, updated_at = ?,
				filter_id = ?, content_hash = ?, raw_json = ?
			WHERE hh_id = ?`,
			v.Title, v.Company, nullIfEmpty(v.EmployerID),
			v.SalaryFrom, v.SalaryTo, nullIfEmpty(v.Currency),
			v.Experience, v.Schedule, v.Employment,
			v.Description, string(skillsJSON), v.Area,
			v.PublishedAt, v.URL, now,
			nullIfEmpty(v.FilterID), hash, v.RawJSON,
			v.HHID,
		)
		if err != nil {
			return false, errors.Wrapf(err, "update vacancy %s", v.HHID)
		}
		s.debugw("Vacancy updated", "hh_id", v.HHID)
		return true, nil
	}

	_, err = s.db.Exec(`
		INSERT INTO vacancies (
			hh_id, title, company, employer_id,
			salary_from, salary_to, currency,
			experience, schedule, employment,
			description, key_skills, area,
			published_at, url, processed_at,
			filter_id, content_hash, raw_json,
			created_at, updated_at, is_processed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.HHID, v.Title, v.Company, nullIfEmpty(v.EmployerID),
		v.SalaryFrom, v.SalaryTo, nullIfEmpty(v.Currency),
		v.Experience, v.Schedule, v.Employment,
		v.Description, string(skillsJSON), v.Area,
		v.PublishedAt, v.URL, nil,
		nullIfEmpty(v.FilterID), hash, v.RawJSON,
		now, now, 0,
	)
	if err != nil {
		return false, errors.Wrapf(err, "insert vacancy %s", v.HHID)
	}
	s.debugw("Vacancy inserted", "hh_id", v.HHID)
	return true, nil
}

const vacancyColumns = `id, hh_id, title, company, employer_id,
	salary_from, salary_to, currency, experience, schedule, employment,
	description, key_skills, area, published_at, url, processed_at,
	filter_id, content_hash, raw_json, created_at, updated_at,
	is_processed, synced_host2`

// GetVacancyByHHID fetches one vacancy by upstream id.
func (s *Store) GetVacancyByHHID(hhID string) (*Vacancy, error) {
	rows, err := s.db.Query(fmt.Sprintf("SELECT %s FROM vacancies WHERE hh_id = ?", vacancyColumns), hhID)
	if err != nil {
		return nil, errors.Wrapf(err, "get vacancy %s", hhID)
	}
	defer rows.Close()

	list, err := scanVacancies(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.NewNotFoundError("vacancy %s", hhID)
	}
	return &list[0], nil
}

// GetRecentVacancies returns the newest rows for the dashboard.
func (s *Store) GetRecentVacancies(limit int) ([]VacancySummary, error) {
	rows, err := s.db.Query(`
		SELECT id, hh_id, title, company, area, published_at, url, filter_id, created_at
		FROM vacancies
		ORDER BY COALESCE(created_at, 0) DESC, published_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query recent vacancies")
	}
	defer rows.Close()

	var out []VacancySummary
	for rows.Next() {
		var v VacancySummary
		var hhID, title, company, area, publishedAt, url, filterID sql.NullString
		var createdAt sql.NullFloat64
		if err := rows.Scan(&v.ID, &hhID, &title, &company, &area, &publishedAt, &url, &filterID, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan recent vacancy")
		}
		v.HHID = hhID.String
		v.Title = title.String
		v.Company = company.String
		v.Area = area.String
		v.PublishedAt = publishedAt.String
		v.URL = url.String
		v.FilterID = filterID.String
		if createdAt.Valid {
			v.CreatedAt = &createdAt.Float64
		}
		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "iterate recent vacancies")
}

// GetUnprocessedVacancies returns rows the post-processing pipeline has
// not touched yet.
func (s *Store) GetUnprocessedVacancies(limit int) ([]Vacancy, error) {
	rows, err := s.db.Query(fmt.Sprintf(`
		SELECT %s FROM vacancies
		WHERE processed_at IS NULL
		ORDER BY published_at DESC
		LIMIT ?`, vacancyColumns), limit)
	if err != nil {
		return nil, errors.Wrap(err, "query unprocessed vacancies")
	}
	defer rows.Close()
	return scanVacancies(rows)
}

// MarkVacancyProcessed stamps processed_at and the processed flag.
func (s *Store) MarkVacancyProcessed(id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := nowUnix()
	_, err := s.db.Exec(`
		UPDATE vacancies
		SET is_processed = 1, processed_at = ?, updated_at = ?
		WHERE id = ?`, now, now, id)
	return errors.Wrapf(err, "mark vacancy %d processed", id)
}

// GetUnsyncedVacancyIDs lists row ids not yet pushed to host2, newest
// first.
func (s *Store) GetUnsyncedVacancyIDs(limit int) ([]int64, error) {
	rows, err := s.db.Query(`
		SELECT id FROM vacancies
		WHERE COALESCE(synced_host2, 0) = 0
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query unsynced vacancies")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan unsynced id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate unsynced ids")
}

// MarkVacanciesSynced flips the host2 flag for the given row ids and
// returns how many rows changed.
func (s *Store) MarkVacanciesSynced(ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, nowUnix())
	for _, id := range ids {
		args = append(args, id)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.Exec(fmt.Sprintf(
		"UPDATE vacancies SET synced_host2 = 1, updated_at = ? WHERE id IN (%s)", placeholders), args...)
	if err != nil {
		return 0, errors.Wrap(err, "mark vacancies synced")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// GetUnanalyzedVacancies returns rows without a host3_analysis plugin
// result. newOnly restricts to the last 7 days.
func (s *Store) GetUnanalyzedVacancies(limit int, newOnly bool) ([]Vacancy, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM vacancies v
		LEFT JOIN plugin_results p ON p.vacancy_id = v.id AND p.plugin_name = 'host3_analysis'
		WHERE p.id IS NULL`, prefixColumns(vacancyColumns, "v"))
	if newOnly {
		query += " AND v.created_at > strftime('%s','now','-7 day')"
	}
	query += " ORDER BY v.created_at DESC LIMIT ?"

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query unanalyzed vacancies")
	}
	defer rows.Close()
	return scanVacancies(rows)
}

// GetVacancyCountByFilter groups the last 7 days of rows by filter.
func (s *Store) GetVacancyCountByFilter() (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT COALESCE(filter_id, 'unknown') AS filter_id, COUNT(*) AS count
		FROM vacancies
		WHERE created_at > strftime('%s','now','-7 day')
		GROUP BY filter_id
		ORDER BY count DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "query vacancy counts by filter")
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var filterID string
		var count int
		if err := rows.Scan(&filterID, &count); err != nil {
			return nil, errors.Wrap(err, "scan filter count")
		}
		out[filterID] = count
	}
	return out, errors.Wrap(rows.Err(), "iterate filter counts")
}

func scanVacancies(rows *sql.Rows) ([]Vacancy, error) {
	var out []Vacancy
	for rows.Next() {
		var v Vacancy
		var hhID, employerID, currency, experience, schedule, employment sql.NullString
		var description, keySkills, area, publishedAt, url, filterID sql.NullString
		var title, company, contentHash, rawJSON sql.NullString
		var salaryFrom, salaryTo sql.NullInt64
		var processedAt, createdAt, updatedAt sql.NullFloat64
		var isProcessed, syncedHost2 sql.NullInt64

		err := rows.Scan(&v.ID, &hhID, &title, &company, &employerID,
			&salaryFrom, &salaryTo, &currency, &experience, &schedule, &employment,
			&description, &keySkills, &area, &publishedAt, &url, &processedAt,
			&filterID, &contentHash, &rawJSON, &createdAt, &updatedAt,
			&isProcessed, &syncedHost2)
		if err != nil {
			return nil, errors.Wrap(err, "scan vacancy row")
		}

		v.HHID = hhID.String
		v.Title = title.String
		v.Company = company.String
		v.EmployerID = employerID.String
		v.Currency = currency.String
		v.Experience = experience.String
		v.Schedule = schedule.String
		v.Employment = employment.String
		v.Description = description.String
		v.KeySkills = decodeSkills(keySkills.String)
		v.Area = area.String
		v.PublishedAt = publishedAt.String
		v.URL = url.String
		v.FilterID = filterID.String
		v.ContentHash = contentHash.String
		v.RawJSON = rawJSON.String
		if salaryFrom.Valid {
			n := int(salaryFrom.Int64)
			v.SalaryFrom = &n
		}
		if salaryTo.Valid {
			n := int(salaryTo.Int64)
			v.SalaryTo = &n
		}
		if processedAt.Valid {
			v.ProcessedAt = &processedAt.Float64
		}
		if createdAt.Valid {
			v.CreatedAt = &createdAt.Float64
		}
		if updatedAt.Valid {
			v.UpdatedAt = &updatedAt.Float64
		}
		v.IsProcessed = isProcessed.Int64 == 1
		v.SyncedHost2 = syncedHost2.Int64 == 1

		out = append(out, v)
	}
	return out, errors.Wrap(rows.Err(), "iterate vacancy rows")
}

// decodeSkills tolerates both the JSON array this code writes and bare
// requirement strings written by earlier tooling.
func decodeSkills(raw string) []string {
	if raw == "" || raw == "null" {
		return nil
	}
	var skills []string
	if err := json.Unmarshal([]byte(raw), &skills); err == nil {
		return skills
	}
	return []string{raw}
}

func prefixColumns(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func intOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
