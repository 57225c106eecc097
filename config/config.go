// Package config manages the hharvest engine configuration.
//
// The primary source is config/config_v4.json, merged with environment
// variables under the HHARVEST prefix. Two sibling files carry runtime
// state the control surface may rewrite: config/filters.json (search
// filters) and config/auth_roles.json (upstream auth providers). All
// writes go through atomic temp-file renames with a timestamped backup
// of the previous copy.
package config

// Config represents the engine configuration.
type Config struct {
	Database         DatabaseConfig        `mapstructure:"database" json:"database"`
	TaskDispatcher   DispatcherConfig      `mapstructure:"task_dispatcher" json:"task_dispatcher"`
	Scheduler        SchedulerConfig       `mapstructure:"scheduler" json:"scheduler"`
	Logging          LoggingConfig         `mapstructure:"logging" json:"logging"`
	API              APIConfig             `mapstructure:"api" json:"api"`
	SystemMonitoring MonitoringConfig      `mapstructure:"system_monitoring" json:"system_monitoring"`
	WebInterface     WebInterfaceConfig    `mapstructure:"web_interface" json:"web_interface"`
	Telegram         TelegramConfig        `mapstructure:"telegram" json:"telegram"`
	Cleanup          CleanupConfig         `mapstructure:"cleanup" json:"cleanup"`
	Hosts            map[string]HostConfig `mapstructure:"hosts" json:"hosts"`
}

// DatabaseConfig configures the SQLite database.
type DatabaseConfig struct {
	Path       string `mapstructure:"path" json:"path"`
	TimeoutSec int    `mapstructure:"timeout_sec" json:"timeout_sec"` // busy timeout for readers vs. the single writer
	WALMode    bool   `mapstructure:"wal_mode" json:"wal_mode"`
}

// DispatcherConfig configures the task dispatcher worker pool.
type DispatcherConfig struct {
	MaxWorkers         int  `mapstructure:"max_workers" json:"max_workers"`
	ChunkSize          int  `mapstructure:"chunk_size" json:"chunk_size"` // records per fetch chunk (100 records = 1 page)
	MonitorIntervalSec int  `mapstructure:"monitor_interval_sec" json:"monitor_interval_sec"`
	DefaultTimeoutSec  int  `mapstructure:"default_timeout_sec" json:"default_timeout_sec"`
	FrequencyHours     int  `mapstructure:"frequency_hours" json:"frequency_hours"` // periodic load cadence shown by schedule/next
	Frozen             bool `mapstructure:"frozen" json:"frozen"`                   // freeze flag: workers stop claiming new tasks
}

// SchedulerConfig configures the recurring-job scheduler daemon.
type SchedulerConfig struct {
	TickIntervalSec    int `mapstructure:"tick_interval_sec" json:"tick_interval_sec"`
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks" json:"max_concurrent_tasks"`
	ShutdownGraceSec   int `mapstructure:"shutdown_grace_sec" json:"shutdown_grace_sec"`
	MaxFailures        int `mapstructure:"max_failures" json:"max_failures"` // consecutive failures before a job auto-disables
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level       string `mapstructure:"level" json:"level"`
	File        string `mapstructure:"file" json:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	BackupCount int    `mapstructure:"backup_count" json:"backup_count"`
	Console     bool   `mapstructure:"console" json:"console"`
	DB          bool   `mapstructure:"db" json:"db"`                             // tee records into the logs table
	DBLevel     string `mapstructure:"db_level_filter" json:"db_level_filter"`   // minimum level persisted to the DB
	JSONOutput  bool   `mapstructure:"json_output" json:"json_output,omitempty"` // console core in JSON instead of human format
}

// APIConfig configures the upstream job-listing API client.
type APIConfig struct {
	BaseURL       string  `mapstructure:"base_url" json:"base_url"`
	UserAgent     string  `mapstructure:"user_agent" json:"user_agent"`
	MaxRetries    int     `mapstructure:"max_retries" json:"max_retries"`
	MinDelaySec   float64 `mapstructure:"min_delay_sec" json:"min_delay_sec"` // minimum spacing between outbound requests
	TimeoutSec    int     `mapstructure:"timeout_sec" json:"timeout_sec"`
	AccessToken   string  `mapstructure:"access_token" json:"access_token,omitempty"`
	JitterEnabled bool    `mapstructure:"jitter_enabled" json:"jitter_enabled"`
}

// MonitoringConfig configures system health sampling thresholds.
type MonitoringConfig struct {
	CPUWarning      float64 `mapstructure:"cpu_warning" json:"cpu_warning"`
	CPUCritical     float64 `mapstructure:"cpu_critical" json:"cpu_critical"`
	MemoryWarning   float64 `mapstructure:"memory_warning" json:"memory_warning"`
	MemoryCritical  float64 `mapstructure:"memory_critical" json:"memory_critical"`
	DiskWarning     float64 `mapstructure:"disk_warning" json:"disk_warning"`
	DiskCritical    float64 `mapstructure:"disk_critical" json:"disk_critical"`
	IntervalSec     int     `mapstructure:"interval_sec" json:"interval_sec"`
	RetentionDays   int     `mapstructure:"retention_days" json:"retention_days"`
	AlertsToConsole bool    `mapstructure:"alerts_to_console" json:"alerts_to_console"`
}

// WebInterfaceConfig configures the control surface listener.
type WebInterfaceConfig struct {
	Host           string   `mapstructure:"host" json:"host"`
	Port           int      `mapstructure:"port" json:"port"`
	AutoStart      bool     `mapstructure:"auto_start" json:"auto_start"`
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins,omitempty"`
}

// TelegramConfig configures notification delivery (external collaborator;
// the engine only carries the settings).
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Token   string `mapstructure:"token" json:"token,omitempty"`
	ChatID  string `mapstructure:"chat_id" json:"chat_id,omitempty"`
}

// CleanupConfig configures retention for terminal tasks and local artifacts.
type CleanupConfig struct {
	KeepDays int  `mapstructure:"keep_days" json:"keep_days"`
	Vacuum   bool `mapstructure:"vacuum" json:"vacuum"`
}

// HostConfig describes a downstream host stub (analytics sync, analysis).
type HostConfig struct {
	Enabled    bool              `mapstructure:"enabled" json:"enabled"`
	Type       string            `mapstructure:"type" json:"type"`
	Connection map[string]string `mapstructure:"connection" json:"connection,omitempty"`
}
