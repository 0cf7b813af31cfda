package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Debug     DebugConfig     `json:"debug"`
	Jobs      []JobConfig     `json:"jobs"`
}

// SchedulerConfig controls the tick loop.
//
// Durations are Go duration strings (e.g. "30s", "1m").
type SchedulerConfig struct {
	// MaxSleep caps a single wait between ticks. Default: "1m".
	MaxSleep string `json:"max_sleep,omitempty"`
	// Timezone used for time-of-day and cron schedules (IANA name). Default: local.
	Timezone string `json:"timezone,omitempty"`
	// DrainTimeout bounds how long shutdown waits for running jobs. Default: "30s".
	DrainTimeout string `json:"drain_timeout,omitempty"`
}

// JobConfig describes one command run on a schedule.
//
// Example:
//
//	jobs:
//	  - name: backup
//	    schedule: "at 02:30 on weekdays"
//	    command: ["/usr/local/bin/backup", "--quiet"]
//	    timeout: 10m
type JobConfig struct {
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"`
	Command  []string `json:"command"`
	Dir      string   `json:"dir,omitempty"`
	Env      []string `json:"env,omitempty"`
	// Timeout is a Go duration string. "0s" or empty disables it.
	Timeout string `json:"timeout,omitempty"`
	// Retries re-runs a failed command up to this many times within one run, with
	// jittered exponential backoff starting at RetryBase (default "1s").
	Retries   int    `json:"retries,omitempty"`
	RetryBase string `json:"retry_base,omitempty"`
	// Overlap is "skip" (default: a run is skipped while the previous one is still
	// executing) or "allow".
	Overlap string `json:"overlap,omitempty"`
	// Disabled keeps the entry in the file without scheduling it.
	Disabled bool `json:"disabled,omitempty"`
}

// UnmarshalJSON rejects unknown keys so typos such as "cmd" fail at load time
// instead of producing a job that silently does nothing.
func (j *JobConfig) UnmarshalJSON(b []byte) error {
	type plain JobConfig
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var p plain
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*j = JobConfig(p)
	return nil
}

// StorageConfig controls the optional run-history store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./cadence_history" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	// MaxRecords caps retained run records; older ones are pruned. Default: 5000.
	MaxRecords int `json:"max_records,omitempty"`
}

// TelegramConfig holds the bot credentials used by the chat log sink.
type TelegramConfig struct {
	Token string `json:"token"`
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

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// DebugConfig controls the optional HTTP server exposing pprof and /debug/status.
//
// Binding to a non-loopback addr requires token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
