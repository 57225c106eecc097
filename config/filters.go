package config

import (
	"encoding/json"
	"os"

	"github.com/talocan/hharvest/errors"
)

// Filter is one named set of upstream search parameters driving a periodic
// load. Filters live in config/filters.json, not the database: the set is
// small, human-edited, and versioned with the deployment. The only runtime
// mutation is the active toggle.
type Filter struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Active *bool                  `json:"active,omitempty"`
	// Enabled is the legacy spelling of Active; IsActive prefers Active
	// when both are present.
	Enabled *bool                  `json:"enabled,omitempty"`
	Type    string                 `json:"type,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// IsActive resolves the active/enabled pair.
func (f Filter) IsActive() bool {
	if f.Active != nil {
		return *f.Active
	}
	if f.Enabled != nil {
		return *f.Enabled
	}
	return false
}

type filtersFile struct {
	Filters []Filter `json:"filters"`
}

// FiltersPath returns the filters file path, honoring HHARVEST_FILTERS.
func FiltersPath() string {
	if p := os.Getenv("HHARVEST_FILTERS"); p != "" {
		return p
	}
	return DefaultFiltersPath
}

// LoadFilters reads the filter list from the default location.
// A missing file yields an empty list, not an error.
func LoadFilters() ([]Filter, error) {
	return LoadFiltersFrom(FiltersPath())
}

// LoadFiltersFrom reads the filter list from an explicit path.
func LoadFiltersFrom(path string) ([]Filter, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []Filter{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read filters file")
	}

	var doc filtersFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse filters file")
	}
	return doc.Filters, nil
}

// ActiveFilters returns only the filters whose toggle resolves to active.
func ActiveFilters() ([]Filter, error) {
	all, err := LoadFilters()
	if err != nil {
		return nil, err
	}
	active := make([]Filter, 0, len(all))
	for _, f := range all {
		if f.IsActive() {
			active = append(active, f)
		}
	}
	return active, nil
}

// SaveFilters persists the filter list with a backup of the previous file.
func SaveFilters(filters []Filter) (string, error) {
	return saveFiltersTo(FiltersPath(), filters)
}

func saveFiltersTo(path string, filters []Filter) (string, error) {
	data, err := json.MarshalIndent(filtersFile{Filters: filters}, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal filters")
	}

	backup, err := createBackup(path)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, data); err != nil {
		return "", err
	}
	return backup, nil
}

// SetFilterActive toggles a single filter and persists the list.
func SetFilterActive(id string, active bool) error {
	filters, err := LoadFilters()
	if err != nil {
		return err
	}

	found := false
	for i := range filters {
		if filters[i].ID == id {
			filters[i].Active = &active
			filters[i].Enabled = nil
			found = true
			break
		}
	}
	if !found {
		return errors.NewNotFoundError("filter %s", id)
	}

	_, err = SaveFilters(filters)
	return err
}

// ToggleAllFilters flips every filter to the given state and persists.
// Returns the number of filters touched.
func ToggleAllFilters(enable bool) (int, error) {
	filters, err := LoadFilters()
	if err != nil {
		return 0, err
	}
	for i := range filters {
		v := enable
		filters[i].Active = &v
		filters[i].Enabled = nil
	}
	if _, err := SaveFilters(filters); err != nil {
		return 0, err
	}
	return len(filters), nil
}

// InvertFilters flips each filter's state individually and persists.
func InvertFilters() (int, error) {
	filters, err := LoadFilters()
	if err != nil {
		return 0, err
	}
	for i := range filters {
		v := !filters[i].IsActive()
		filters[i].Active = &v
		filters[i].Enabled = nil
	}
	if _, err := SaveFilters(filters); err != nil {
		return 0, err
	}
	return len(filters), nil
}

// FilterByID returns the filter with the given id.
func FilterByID(id string) (*Filter, error) {
	filters, err := LoadFilters()
	if err != nil {
		return nil, err
	}
	for i := range filters {
		if filters[i].ID == id {
			return &filters[i], nil
		}
	}
	return nil, errors.NewNotFoundError("filter %s", id)
}
