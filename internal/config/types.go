package config

// Config is the on-disk configuration (JSON, or YAML coerced to JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1h").
// Sections marked omitempty fall back to component defaults when omitted.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Delivery  *DeliveryConfig `json:"delivery,omitempty"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Ops       OpsConfig       `json:"ops,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
	// CommandTimeout bounds one inbound command handler.
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors warnings into an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the content scheduler.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "10s"
//   - delivery_timeout: tick_interval
//   - shutdown_grace: "5s"
//   - history_size: 200
//   - timezone: local time
//   - one_time_delay: "1m", default_interval: "60s", recurring_time: "09:00"
//   - cron_hour / cron_minute: the current hour/minute at computation time
type SchedulerConfig struct {
	TickInterval    string `json:"tick_interval,omitempty"`
	DeliveryTimeout string `json:"delivery_timeout,omitempty"`
	ShutdownGrace   string `json:"shutdown_grace,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`

	Timezone        string `json:"timezone,omitempty"`
	OneTimeDelay    string `json:"one_time_delay,omitempty"`
	DefaultInterval string `json:"default_interval,omitempty"`
	CronHour        *int   `json:"cron_hour,omitempty"`
	CronMinute      *int   `json:"cron_minute,omitempty"`
	RecurringTime   string `json:"recurring_time,omitempty"`
}

// RateLimitConfig sets the three admission scopes. A zero scope keeps the
// built-in default (user 10/1m, chat 50/1h, global 1000/1h).
type RateLimitConfig struct {
	User   ScopeConfig `json:"user"`
	Chat   ScopeConfig `json:"chat"`
	Global ScopeConfig `json:"global"`

	IdleTTL        string `json:"idle_ttl,omitempty"`
	SweepInterval  string `json:"sweep_interval,omitempty"`
	RefundOnReject bool   `json:"refund_on_reject,omitempty"`
}

type ScopeConfig struct {
	Capacity int    `json:"capacity"`
	Window   string `json:"window"`
}

// DeliveryConfig throttles outbound messages.
type DeliveryConfig struct {
	RatePerSec     float64 `json:"rate_per_sec"`
	Burst          int     `json:"burst,omitempty"`
	ParseMode      string  `json:"parse_mode,omitempty"`
	DisablePreview bool    `json:"disable_preview,omitempty"`
	Silent         bool    `json:"silent,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/contentbot" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	CompactEvery int    `json:"compact_every,omitempty"`
}

// OpsConfig controls the operator HTTP server (health, schedules, limiter
// stats and pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
