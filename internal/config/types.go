package config

import "time"

// Config is the whole service configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Telegram   TelegramConfig   `json:"telegram"`
	Broadcast  BroadcastConfig  `json:"broadcast,omitempty"`
	TaskEngine TaskEngineConfig `json:"task_engine,omitempty"`
	Scheduler  SchedulerConfig  `json:"scheduler,omitempty"`
}

type ServerConfig struct {
	Addr         string `json:"addr"` // default ":8080"
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
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

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type TelegramConfig struct {
	// APIEndpoint overrides the provider URL (local bot API servers, tests).
	APIEndpoint string `json:"api_endpoint,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"` // default "10s"
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 25
}

// BroadcastConfig tunes campaign execution.
//
// Defaults (when fields are omitted/zero):
//   - recipient_concurrency: 4
//   - retry_max: 3
//   - task_timeout: "10m"
type BroadcastConfig struct {
	RecipientConcurrency int    `json:"recipient_concurrency,omitempty"`
	RetryMax             int    `json:"retry_max,omitempty"`
	TaskTimeout          string `json:"task_timeout,omitempty"`
}

// TaskEngineConfig controls the background execution engine.
//
// Defaults: workers 2, queue_size 256, history_size 200, retry_max 3.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
}

// SchedulerConfig controls the scheduled-broadcast promotion loop.
// Enabled is a pointer so "omitted" defaults to true.
type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval string `json:"interval,omitempty"` // default "60s"
}

func (c SchedulerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// MustDuration parses a Go duration string, returning def when the field is
// empty or invalid.
func MustDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
