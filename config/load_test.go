package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useTempConfig points the loader at a throwaway config path and clears
// the cache on both ends of the test.
func useTempConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config_v4.json")
	t.Setenv("HHARVEST_CONFIG", path)
	Reset()
	t.Cleanup(Reset)
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	useTempConfig(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/hh_v4.sqlite3", cfg.Database.Path)
	assert.Equal(t, 3, cfg.TaskDispatcher.MaxWorkers)
	assert.Equal(t, 500, cfg.TaskDispatcher.ChunkSize)
	assert.Equal(t, 3600, cfg.TaskDispatcher.DefaultTimeoutSec)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "logs/app.log", cfg.Logging.File)
	assert.Equal(t, "https://api.hh.ru", cfg.API.BaseURL)
	assert.Equal(t, 8080, cfg.WebInterface.Port)
	assert.False(t, cfg.TaskDispatcher.Frozen)
	assert.False(t, cfg.WebInterface.AutoStart)
}

func TestLoadIsCachedUntilReset(t *testing.T) {
	useTempConfig(t)

	a, err := Load()
	require.NoError(t, err)
	b, err := Load()
	require.NoError(t, err)
	assert.Same(t, a, b)

	Reset()
	c, err := Load()
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := useTempConfig(t)
	doc := `{
  "database": {"path": "elsewhere/custom.sqlite3"},
  "task_dispatcher": {"max_workers": 7},
  "logging": {"level": "debug"}
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	Reset()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "elsewhere/custom.sqlite3", cfg.Database.Path)
	assert.Equal(t, 7, cfg.TaskDispatcher.MaxWorkers)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Keys the file omits keep their defaults.
	assert.Equal(t, 500, cfg.TaskDispatcher.ChunkSize)
	assert.Equal(t, 30, cfg.Database.TimeoutSec)
	assert.Equal(t, "https://api.hh.ru", cfg.API.BaseURL)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"database": {"path": "x.sqlite3"}}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "x.sqlite3", cfg.Database.Path)
	assert.Equal(t, 3, cfg.TaskDispatcher.MaxWorkers, "defaults still apply")

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestValidateRaw(t *testing.T) {
	valid := []byte(`{"database": {}, "task_dispatcher": {}, "logging": {}}`)
	require.NoError(t, ValidateRaw(valid))

	assert.Error(t, ValidateRaw([]byte("not json")))
	assert.Error(t, ValidateRaw([]byte(`[1, 2, 3]`)), "a JSON array is not a config document")
	assert.Error(t, ValidateRaw([]byte(`{"database": {}, "logging": {}}`)),
		"missing task_dispatcher section")
}

func TestWriteRawPersistsAndBacksUp(t *testing.T) {
	path := useTempConfig(t)

	first := []byte(`{"database": {"path": "one.sqlite3"}, "task_dispatcher": {}, "logging": {}}`)
	backup, err := WriteRaw(first)
	require.NoError(t, err)
	assert.Empty(t, backup, "nothing to back up on the first write")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "one.sqlite3", cfg.Database.Path)

	second := []byte(`{"database": {"path": "two.sqlite3"}, "task_dispatcher": {}, "logging": {}}`)
	backup, err = WriteRaw(second)
	require.NoError(t, err)
	assert.Contains(t, backup, filepath.Base(path)+".bak.")

	// The backup carries the previous document verbatim.
	prev, err := os.ReadFile(filepath.Join(filepath.Dir(path), backup))
	require.NoError(t, err)
	assert.Equal(t, first, prev)

	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "two.sqlite3", cfg.Database.Path, "WriteRaw resets the cache")
}

func TestWriteRawRejectsIncompleteDocument(t *testing.T) {
	useTempConfig(t)

	original := []byte(`{"database": {}, "task_dispatcher": {}, "logging": {}}`)
	_, err := WriteRaw(original)
	require.NoError(t, err)

	_, err = WriteRaw([]byte(`{"database": {}}`))
	require.Error(t, err)

	// The live file is untouched by the rejected write.
	raw, err := ReadRaw()
	require.NoError(t, err)
	assert.Equal(t, original, raw)
}

func TestUpdateFrozenPersists(t *testing.T) {
	useTempConfig(t)

	require.NoError(t, UpdateFrozen(true))

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.TaskDispatcher.Frozen)

	require.NoError(t, UpdateFrozen(false))

	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.TaskDispatcher.Frozen)
}

func TestUpdateHostEnabledPersists(t *testing.T) {
	useTempConfig(t)

	require.NoError(t, UpdateHostEnabled("host2", true))

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.HostEnabled("host2"))
	assert.Equal(t, "host2", cfg.Hosts["host2"].Type, "type defaults to the host name")
	assert.False(t, cfg.HostEnabled("host3"), "unknown hosts read as disabled")

	require.NoError(t, UpdateHostEnabled("host2", false))

	cfg, err = Load()
	require.NoError(t, err)
	assert.False(t, cfg.HostEnabled("host2"))
}
