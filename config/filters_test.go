package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talocan/hharvest/errors"
)

func useTempFilters(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filters.json")
	t.Setenv("HHARVEST_FILTERS", path)
	return path
}

func boolPtr(b bool) *bool { return &b }

func TestLoadFiltersMissingFileYieldsEmpty(t *testing.T) {
	useTempFilters(t)

	filters, err := LoadFilters()
	require.NoError(t, err)
	assert.Empty(t, filters)
}

func TestFilterIsActivePrecedence(t *testing.T) {
	assert.False(t, Filter{}.IsActive(), "no toggle means inactive")
	assert.True(t, Filter{Active: boolPtr(true)}.IsActive())
	assert.True(t, Filter{Enabled: boolPtr(true)}.IsActive(), "legacy spelling honored")
	assert.False(t, Filter{Active: boolPtr(false), Enabled: boolPtr(true)}.IsActive(),
		"active wins over the legacy enabled")
}

func TestSaveAndLoadFilters(t *testing.T) {
	useTempFilters(t)

	in := []Filter{
		{ID: "golang", Name: "Go jobs", Active: boolPtr(true),
			Params: map[string]interface{}{"text": "golang", "area": "1"}},
		{ID: "python", Name: "Python jobs", Active: boolPtr(false)},
	}
	backup, err := SaveFilters(in)
	require.NoError(t, err)
	assert.Empty(t, backup)

	out, err := LoadFilters()
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "golang", out[0].ID)
	assert.Equal(t, "golang", out[0].Params["text"])

	active, err := ActiveFilters()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "golang", active[0].ID)
}

func TestSetFilterActive(t *testing.T) {
	useTempFilters(t)

	_, err := SaveFilters([]Filter{
		{ID: "golang", Enabled: boolPtr(true)}, // legacy toggle
	})
	require.NoError(t, err)

	require.NoError(t, SetFilterActive("golang", false))

	f, err := FilterByID("golang")
	require.NoError(t, err)
	assert.False(t, f.IsActive())
	assert.Nil(t, f.Enabled, "legacy toggle cleared on rewrite")

	err = SetFilterActive("nope", true)
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestToggleAllAndInvertFilters(t *testing.T) {
	useTempFilters(t)

	_, err := SaveFilters([]Filter{
		{ID: "a", Active: boolPtr(true)},
		{ID: "b", Active: boolPtr(false)},
		{ID: "c"},
	})
	require.NoError(t, err)

	n, err := ToggleAllFilters(true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	active, err := ActiveFilters()
	require.NoError(t, err)
	assert.Len(t, active, 3)

	n, err = InvertFilters()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	active, err = ActiveFilters()
	require.NoError(t, err)
	assert.Empty(t, active, "inverting an all-active set deactivates everything")
}

func TestFilterByIDNotFound(t *testing.T) {
	useTempFilters(t)

	_, err := SaveFilters([]Filter{{ID: "a"}})
	require.NoError(t, err)

	_, err = FilterByID("missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSaveFiltersBacksUpPrevious(t *testing.T) {
	path := useTempFilters(t)

	_, err := SaveFilters([]Filter{{ID: "a"}})
	require.NoError(t, err)

	backup, err := SaveFilters([]Filter{{ID: "b"}})
	require.NoError(t, err)
	assert.Contains(t, backup, filepath.Base(path)+".bak.")
}
