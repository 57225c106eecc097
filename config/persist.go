package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/talocan/hharvest/errors"
)

// backupTimestampLayout yields config_v4.json.bak.20250825143012 style names.
const backupTimestampLayout = "20060102150405"

// requiredSections must be present in any config document accepted by
// WriteRaw; a document missing one never replaces the live file.
var requiredSections = []string{"database", "task_dispatcher", "logging"}

// createBackup copies the current file to <path>.bak.<timestamp> before a
// rewrite. Returns the backup file name, or "" when there was nothing to
// back up.
func createBackup(path string) (string, error) {
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read file for backup")
	}

	backup := path + ".bak." + time.Now().Format(backupTimestampLayout)
	if err := os.WriteFile(backup, content, 0o644); err != nil {
		return "", errors.Wrap(err, "failed to write backup")
	}
	return filepath.Base(backup), nil
}

// writeAtomic writes data to path via a temp file + rename in the same
// directory, so readers never observe a torn file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to close temp file")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to chmod temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "failed to replace file")
	}
	return nil
}

// ValidateRaw checks that raw is a JSON object carrying the required
// config sections. It does not verify individual values; defaults cover
// anything omitted inside a section.
func ValidateRaw(raw []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.Wrap(errors.ErrInvalidRequest, err.Error())
	}
	for _, section := range requiredSections {
		if _, ok := doc[section]; !ok {
			return errors.NewInvalidRequestError("missing required config section %q", section)
		}
	}
	return nil
}

// WriteRaw validates and persists a full config document, backing up the
// previous copy. Returns the backup file name. The cached config is reset
// so the next Load observes the new contents.
func WriteRaw(raw []byte) (string, error) {
	if err := ValidateRaw(raw); err != nil {
		return "", err
	}

	path := ConfigPath()
	backup, err := createBackup(path)
	if err != nil {
		return "", err
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	if err := writeAtomic(path, raw); err != nil {
		return "", err
	}

	Reset()
	return backup, nil
}

// ReadRaw returns the raw bytes of the active config file.
func ReadRaw() ([]byte, error) {
	raw, err := os.ReadFile(ConfigPath())
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return raw, nil
}

// Save marshals cfg and persists it with a backup of the previous copy.
func Save(cfg *Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal config")
	}
	return WriteRaw(data)
}

// UpdateFrozen flips the dispatcher freeze flag and persists it.
func UpdateFrozen(frozen bool) error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	updated := *cfg
	updated.TaskDispatcher.Frozen = frozen
	_, err = Save(&updated)
	return err
}

// UpdateHostEnabled toggles a downstream host stub and persists the change.
func UpdateHostEnabled(name string, enabled bool) error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	updated := *cfg
	if updated.Hosts == nil {
		updated.Hosts = map[string]HostConfig{}
	}
	h := updated.Hosts[name]
	h.Enabled = enabled
	if h.Type == "" {
		h.Type = name
	}
	updated.Hosts[name] = h
	_, err = Save(&updated)
	return err
}
