package config

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/talocan/hharvest/errors"
)

var (
	globalConfig  *Config
	viperInstance *viper.Viper
	globalMu      sync.Mutex
)

// Load reads the engine configuration using Viper. The result is cached;
// call Reset to force a re-read (the watcher does this on file change).
func Load() (*Config, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViperLocked()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	globalConfig = &cfg
	return globalConfig, nil
}

// LoadFromFile loads configuration from a specific file path without
// touching the cached global instance.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal config from %s", configPath)
	}

	return &cfg, nil
}

// Reset clears the cached configuration (used by the watcher and tests).
func Reset() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalConfig = nil
	viperInstance = nil
}

// ConfigPath returns the active config file path, honoring the
// HHARVEST_CONFIG override.
func ConfigPath() string {
	if p := os.Getenv("HHARVEST_CONFIG"); p != "" {
		return p
	}
	return DefaultConfigPath
}

// initViperLocked initializes Viper with config sources and defaults.
// Caller must hold globalMu.
func initViperLocked() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix("HHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)

	path := ConfigPath()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if _, err := os.Stat(path); err == nil {
		// Missing file is fine (defaults + env apply); a present but
		// unparsable file is not.
		_ = v.ReadInConfig()
	}

	viperInstance = v
	return v
}

// Get returns a configuration value using dot notation.
func Get(key string) interface{} {
	globalMu.Lock()
	defer globalMu.Unlock()
	return initViperLocked().Get(key)
}

// GetString returns a configuration value as string using dot notation.
func GetString(key string) string {
	globalMu.Lock()
	defer globalMu.Unlock()
	return initViperLocked().GetString(key)
}

// GetBool returns a configuration value as bool using dot notation.
func GetBool(key string) bool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return initViperLocked().GetBool(key)
}

// GetInt returns a configuration value as int using dot notation.
func GetInt(key string) int {
	globalMu.Lock()
	defer globalMu.Unlock()
	return initViperLocked().GetInt(key)
}
