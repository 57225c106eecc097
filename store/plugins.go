package store

import (
	"encoding/json"

	"github.com/talocan/hharvest/errors"
)

// PluginResult is one analyzer output, append-only per run.
type PluginResult struct {
	ID         int64   `json:"id"`
	VacancyID  string  `json:"vacancy_id"`
	PluginName string  `json:"plugin_name"`
	ResultJSON string  `json:"result_json"`
	CreatedAt  float64 `json:"created_at"`
}

// SavePluginResult appends an analyzer result for a vacancy.
func (s *Store) SavePluginResult(vacancyID, pluginName string, result map[string]interface{}) error {
	resultJSON, err := json.Marshal(orEmpty(result))
	if err != nil {
		return errors.Wrap(err, "marshal plugin result")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO plugin_results (vacancy_id, plugin_name, result_json, created_at)
		VALUES (?, ?, ?, ?)`,
		vacancyID, pluginName, string(resultJSON), nowUnix())
	return errors.Wrapf(err, "save %s result for vacancy %s", pluginName, vacancyID)
}

// GetPluginResults returns the newest results for a vacancy, most
// recent first, optionally filtered by plugin name.
func (s *Store) GetPluginResults(vacancyID, pluginName string, limit int) ([]PluginResult, error) {
	query := "SELECT id, vacancy_id, plugin_name, result_json, created_at FROM plugin_results WHERE vacancy_id = ?"
	args := []interface{}{vacancyID}
	if pluginName != "" {
		query += " AND plugin_name = ?"
		args = append(args, pluginName)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query plugin results")
	}
	defer rows.Close()

	var out []PluginResult
	for rows.Next() {
		var r PluginResult
		if err := rows.Scan(&r.ID, &r.VacancyID, &r.PluginName, &r.ResultJSON, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan plugin result")
		}
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "iterate plugin results")
}
