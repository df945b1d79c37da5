package config

// Config is the daemon configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Credentials (secret/device id) live in a separate state file written by
// the registration flow, never in this file.
type Config struct {
	API    APIConfig    `json:"api,omitempty"`
	Stream StreamConfig `json:"stream,omitempty"`
	Sync   SyncConfig   `json:"sync,omitempty"`
	Cache  CacheConfig  `json:"cache,omitempty"`

	Notify  NotifyConfig   `json:"notify,omitempty"`
	Logging LoggingConfig  `json:"logging,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`

	// StateFile is where registration wrote secret/device_id.
	// Default: "<cache.dir>/state.yaml".
	StateFile string `json:"state_file,omitempty"`
}

// APIConfig points at the HTTP API.
type APIConfig struct {
	Endpoint       string `json:"endpoint,omitempty"`        // default: the fixed production endpoint
	RequestTimeout string `json:"request_timeout,omitempty"` // default: "30s"
	IconTimeout    string `json:"icon_timeout,omitempty"`    // default: "10s"
}

// StreamConfig points at the push stream.
//
// TLS is a pointer so "omitted" (default true for the production endpoint)
// is distinguishable from an explicit false (loopback testing).
type StreamConfig struct {
	Addr             string `json:"addr,omitempty"`
	TLS              *bool  `json:"tls,omitempty"`
	KeepaliveTimeout string `json:"keepalive_timeout,omitempty"` // default: "60s"
}

// SyncConfig controls the engine.
//
// FetchRetries is a pointer so an explicit 0 (no retries) is
// distinguishable from "omitted" (default 2).
type SyncConfig struct {
	PollSchedule     string `json:"poll_schedule,omitempty"`     // cron spec, default "@every 10m"
	ReconnectBackoff string `json:"reconnect_backoff,omitempty"` // default: "3s"
	FetchRetries     *int   `json:"fetch_retries,omitempty"`
}

type CacheConfig struct {
	// Dir is the cache directory; an icons/ subdirectory is created under
	// it on demand. Default: "~/.cache/pullover" resolved at startup.
	Dir string `json:"dir,omitempty"`

	// ActionTTL bounds how long displayed message bodies stay resolvable
	// for notification actions. Default: "15m".
	ActionTTL string `json:"action_ttl,omitempty"`
}

// NotifyConfig controls the delivery sinks.
type NotifyConfig struct {
	AppName string `json:"app_name,omitempty"` // default: "Pullover"

	// Desktop enables the notify-send sink.
	Desktop bool `json:"desktop,omitempty"`

	// Telegram, when present, mirrors messages into a chat.
	Telegram *TelegramSinkConfig `json:"telegram,omitempty"`

	// DedupWindow suppresses re-display of already-shown message ids.
	// Empty/zero shows every redelivery again.
	DedupWindow string `json:"dedup_window,omitempty"`
}

type TelegramSinkConfig struct {
	Token      string `json:"token"`
	ChatID     int64  `json:"chat_id"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default: 1
}

// LoggingConfig mirrors logx.Config.
//
// Console is a pointer so "omitted" (default true) is distinguishable from
// an explicit false.
type LoggingConfig struct {
	Level   string        `json:"level,omitempty"` // default: "INFO"
	Console *bool         `json:"console,omitempty"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./pullover.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}
