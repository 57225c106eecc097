package config

import (
	"github.com/spf13/viper"
)

// Well-known file locations relative to the working directory. The engine
// keeps the original on-disk layout so existing deployments keep working.
const (
	DefaultConfigPath      = "config/config_v4.json"
	DefaultFiltersPath     = "config/filters.json"
	DefaultAuthRolesPath   = "config/auth_roles.json"
	DefaultCredentialsPath = "config/credentials.json"
	DefaultPidFilePath     = "data/scheduler_daemon.pid"
	DefaultTrashDir        = "data/.trash"
)

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "data/hh_v4.sqlite3")
	v.SetDefault("database.timeout_sec", 30)
	v.SetDefault("database.wal_mode", true)

	// Dispatcher defaults
	v.SetDefault("task_dispatcher.max_workers", 3)
	v.SetDefault("task_dispatcher.chunk_size", 500) // 500 records = 5 pages per chunk
	v.SetDefault("task_dispatcher.monitor_interval_sec", 10)
	v.SetDefault("task_dispatcher.default_timeout_sec", 3600)
	v.SetDefault("task_dispatcher.frequency_hours", 1)
	v.SetDefault("task_dispatcher.frozen", false)

	// Scheduler defaults
	v.SetDefault("scheduler.tick_interval_sec", 60)
	v.SetDefault("scheduler.max_concurrent_tasks", 3)
	v.SetDefault("scheduler.shutdown_grace_sec", 300)
	v.SetDefault("scheduler.max_failures", 3)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "logs/app.log")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.backup_count", 3)
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.db", true)
	v.SetDefault("logging.db_level_filter", "warn")
	v.SetDefault("logging.json_output", false)

	// Upstream API defaults
	v.SetDefault("api.base_url", "https://api.hh.ru")
	v.SetDefault("api.user_agent", "HH-Tool-v4/1.0 (+https://example.local)")
	v.SetDefault("api.max_retries", 4)
	v.SetDefault("api.min_delay_sec", 1.0)
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("api.jitter_enabled", true)

	// System monitoring defaults
	v.SetDefault("system_monitoring.cpu_warning", 80.0)
	v.SetDefault("system_monitoring.cpu_critical", 95.0)
	v.SetDefault("system_monitoring.memory_warning", 85.0)
	v.SetDefault("system_monitoring.memory_critical", 95.0)
	v.SetDefault("system_monitoring.disk_warning", 85.0)
	v.SetDefault("system_monitoring.disk_critical", 95.0)
	v.SetDefault("system_monitoring.interval_sec", 300)
	v.SetDefault("system_monitoring.retention_days", 30)
	v.SetDefault("system_monitoring.alerts_to_console", true)

	// Control surface defaults
	v.SetDefault("web_interface.host", "127.0.0.1")
	v.SetDefault("web_interface.port", 8080)
	v.SetDefault("web_interface.auto_start", false)
	v.SetDefault("web_interface.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})

	// Telegram defaults (delivery is an external collaborator)
	v.SetDefault("telegram.enabled", false)

	// Cleanup defaults
	v.SetDefault("cleanup.keep_days", 30)
	v.SetDefault("cleanup.vacuum", true)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables.
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("api.access_token", "HHARVEST_API_ACCESS_TOKEN")
	v.BindEnv("telegram.token", "HHARVEST_TELEGRAM_TOKEN")
	v.BindEnv("database.path", "HHARVEST_DATABASE_PATH")
}

// GetDatabasePath returns the configured database path.
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "data/hh_v4.sqlite3"
	}
	return c.Database.Path
}

// GetAllowedOrigins returns the allowed CORS origins for the control surface.
func (c *Config) GetAllowedOrigins() []string {
	if len(c.WebInterface.AllowedOrigins) == 0 {
		return []string{
			"http://localhost",
			"http://127.0.0.1",
		}
	}
	return c.WebInterface.AllowedOrigins
}

// HostEnabled reports whether a named downstream host stub is enabled.
func (c *Config) HostEnabled(name string) bool {
	h, ok := c.Hosts[name]
	return ok && h.Enabled
}
