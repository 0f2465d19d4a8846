package config

// Config is the on-disk configuration. JSON or YAML, unknown keys rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "2m").
type Config struct {
	Telegram     TelegramConfig     `json:"telegram" validate:"required"`
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	Remote       RemoteConfig       `json:"remote"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Notifier     *NotifierConfig    `json:"notifier,omitempty"`
	Diagnostics  DiagnosticsConfig  `json:"diagnostics,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token" validate:"required"`
	OwnerUserIDs []int64 `json:"owner_user_ids" validate:"required,min=1,dive,gt=0"`
	GroupLog     string  `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout" validate:"omitempty,duration"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path" validate:"required_if=Enabled true"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id" validate:"gte=0"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// StorageConfig selects where session blobs and the run log live.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/likebot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver        string `json:"driver" validate:"omitempty,oneof=file sqlite redis"`
	Path          string `json:"path"`
	BusyTimeout   string `json:"busy_timeout,omitempty" validate:"omitempty,duration"` // sqlite
	RedisAddr     string `json:"redis_addr,omitempty" validate:"required_if=Driver redis"`
	RedisDB       int    `json:"redis_db,omitempty" validate:"gte=0"`
	RedisPassword string `json:"redis_password,omitempty"`
}

// RemoteConfig points at the HTTP gateway that talks to the remote service.
type RemoteConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	Timeout string `json:"timeout,omitempty" validate:"omitempty,duration"`
	// MaxRPS caps gateway requests per second across all sessions. 0 disables the cap.
	MaxRPS float64 `json:"max_rps,omitempty" validate:"gte=0"`
}

// OrchestratorConfig holds job and conversation knobs. Reloadable.
//
// Defaults:
//   - rate_limit_backoff: "2m"
//   - flow_timeout: "15m"
//   - max_links: 50
type OrchestratorConfig struct {
	RateLimitBackoff string `json:"rate_limit_backoff,omitempty" validate:"omitempty,duration"`
	FlowTimeout      string `json:"flow_timeout,omitempty" validate:"omitempty,duration"`
	ProgressMessages bool   `json:"progress_messages,omitempty"`
	MaxLinks         int    `json:"max_links,omitempty" validate:"gte=0"`
}

// NotifierConfig controls the async outbound message pipeline.
// If the whole section is omitted the notifier runs with defaults.
type NotifierConfig struct {
	Enabled    bool   `json:"enabled"`
	Workers    int    `json:"workers" validate:"gte=0"`
	QueueSize  int    `json:"queue_size" validate:"gte=0"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
	RetryMax   int    `json:"retry_max" validate:"gte=0"`
	RetryBase  string `json:"retry_base" validate:"omitempty,duration"`
}

// DiagnosticsConfig controls the metrics/pprof HTTP server.
//
// Prefer a loopback bind (e.g. "127.0.0.1:9090"). A non-loopback address
// needs a token or an explicit allow_insecure.
type DiagnosticsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty" validate:"omitempty,hostname_port"`
	Token         string `json:"token,omitempty"` // bearer token, never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
