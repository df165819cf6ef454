package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Gate is the default time window applied to gated tasks.
	Gate GateConfig `json:"gate"`

	// Scheduler controls cron triggering.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution. If omitted, it follows scheduler.enabled
	// with engine defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Tasks []TaskConfig `json:"tasks" validate:"dive"`

	Storage       *StorageConfig       `json:"storage,omitempty"`
	Notifier      *NotifierConfig      `json:"notifier,omitempty"`
	Observability *ObservabilityConfig `json:"observability,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// GateConfig describes a disallowed hour window [start_hour, end_hour) in a
// named civil time zone. Hours are never clamped: out of range is an error.
//
// Example (no runs between 01:00 and 06:59 US Eastern):
//
//	"gate": { "timezone": "Eastern Time (US & Canada)", "start_hour": 1, "end_hour": 7 }
type GateConfig struct {
	Timezone  string `json:"timezone" validate:"required"`
	StartHour int    `json:"start_hour" validate:"min=0,max=23"`
	EndHour   int    `json:"end_hour" validate:"min=0,max=23"`

	// Overnight allows start_hour > end_hour, closing across midnight.
	Overnight bool `json:"overnight,omitempty"`
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Timezone for cron expressions. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty" validate:"min=0,max=256"`

	QueueSize int `json:"queue_size,omitempty" validate:"min=0"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty" validate:"min=0"`
	RetryMax    int `json:"retry_max,omitempty" validate:"min=0,max=20"`
}

// TaskConfig is one scheduled command.
//
// A task is gated when gated is true or when it carries its own gate.
type TaskConfig struct {
	Name     string            `json:"name" validate:"required"`
	Schedule string            `json:"schedule" validate:"required"`
	Command  []string          `json:"command" validate:"required,min=1,dive,required"`
	Dir      string            `json:"dir,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Timeout  string            `json:"timeout,omitempty"`

	Gated bool        `json:"gated,omitempty"`
	Gate  *GateConfig `json:"gate,omitempty"`

	Overlap  string `json:"overlap,omitempty" validate:"omitempty,oneof=allow skip"`
	RetryMax int    `json:"retry_max,omitempty" validate:"min=-1,max=20"`
}

// StorageConfig controls run history persistence.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./taskgate.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=file sqlite none"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// NotifierConfig controls alert delivery for task failures and gated runs.
type NotifierConfig struct {
	Enabled     bool `json:"enabled"`
	QueueSize   int  `json:"queue_size,omitempty" validate:"min=0"`
	RatePerSec  int  `json:"rate_per_sec,omitempty" validate:"min=0"`
	NotifyGated bool `json:"notify_gated,omitempty"`

	Telegram  *TelegramConfig  `json:"telegram,omitempty"`
	PagerDuty *PagerDutyConfig `json:"pagerduty,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token" validate:"required"`
	ChatID   int64  `json:"chat_id" validate:"required"`
	ThreadID int    `json:"thread_id,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type PagerDutyConfig struct {
	RoutingKey string `json:"routing_key" validate:"required"`
	Source     string `json:"source,omitempty"`
	Severity   string `json:"severity,omitempty" validate:"omitempty,oneof=critical error warning info"`
	MaxElapsed string `json:"max_elapsed,omitempty"`
}

// ObservabilityConfig controls the metrics/diagnostics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9464").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
