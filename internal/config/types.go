package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "24h"); Resolve turns the raw values into checked ones.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Countdown CountdownConfig `json:"countdown"`
	Schedule  ScheduleConfig  `json:"schedule"`

	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
	HTTP       HTTPConfig        `json:"http"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// CountdownConfig sets the reference instant and the period.
//
// Either Reference (RFC 3339 with offset, "2024-06-16T00:00:00+04:00") or
// ReferenceDate ("2024-06-16", midnight in Timezone) must be set.
type CountdownConfig struct {
	Reference     string `json:"reference,omitempty"`
	ReferenceDate string `json:"reference_date,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	PeriodDays    int    `json:"period_days"`
}

type ScheduleConfig struct {
	// Timezone whose local midnight triggers the daily notification.
	Timezone string `json:"timezone"`
	// MaxRecipients caps installed timers; 0 means unlimited.
	MaxRecipients int    `json:"max_recipients,omitempty"`
	FireTimeout   string `json:"fire_timeout,omitempty"`
	// Recipients are registered at startup ("chatID" or "chatID:threadID").
	Recipients      []string `json:"recipients,omitempty"`
	AnnounceOnStart bool     `json:"announce_on_start,omitempty"`
	// RegisterOnJoin defaults to true when omitted.
	RegisterOnJoin *bool `json:"register_on_join,omitempty"`
}

// TaskEngineConfig controls fire execution.
//
// Defaults: default_timeout "30s", history_size 200.
type TaskEngineConfig struct {
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// NotifierConfig controls delivery.
//
// Defaults: rate_per_sec 20, send_timeout "10s", dedup_window "1h",
// dedup_max_entries 2000, history_size 100. A dedup_window of "0s" disables
// dedup.
type NotifierConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
	HistorySize     int    `json:"history_size,omitempty"`
}

// StorageConfig controls the optional audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/countdown.db", "retention": "720h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Retention is how long audit rows are kept; "0s" keeps them forever.
	Retention string `json:"retention,omitempty"`
}

// HTTPConfig controls the health endpoint. An empty Addr disables it.
type HTTPConfig struct {
	Addr string `json:"addr"`
}
