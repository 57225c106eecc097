package store

import (
	"fmt"
	"strings"

	"github.com/talocan/hharvest/errors"
)

// ExportFilter narrows which vacancies an export touches. Zero values
// mean no constraint; Limit <= 0 exports everything that matches.
type ExportFilter struct {
	CreatedFrom *float64 // created_at >= this unix timestamp
	MinSalary   *int     // salary_from >= this amount
	Area        string   // area substring match
	Limit       int
}

func (f ExportFilter) where() (string, []interface{}) {
	var conds []string
	var args []interface{}
	if f.CreatedFrom != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, *f.CreatedFrom)
	}
	if f.MinSalary != nil {
		conds = append(conds, "salary_from >= ?")
		args = append(args, *f.MinSalary)
	}
	if f.Area != "" {
		conds = append(conds, "area LIKE ?")
		args = append(args, "%"+f.Area+"%")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CountVacanciesForExport returns how many rows the filter matches,
// ignoring the limit.
func (s *Store) CountVacanciesForExport(f ExportFilter) (int, error) {
	where, args := f.where()
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM vacancies"+where, args...).Scan(&n)
	return n, errors.Wrap(err, "count vacancies for export")
}

// VacanciesForExport returns matching rows newest-first.
func (s *Store) VacanciesForExport(f ExportFilter) ([]Vacancy, error) {
	where, args := f.where()
	query := fmt.Sprintf("SELECT %s FROM vacancies%s ORDER BY created_at DESC", vacancyColumns, where)
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query vacancies for export")
	}
	defer rows.Close()
	return scanVacancies(rows)
}
