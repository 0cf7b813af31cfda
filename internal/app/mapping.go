package app

import (
	"fmt"
	"strings"
	"time"

	"cadence/internal/config"
	"cadence/internal/observability/debug"
	"cadence/internal/storage"
	"cadence/internal/task/runner"
	"cadence/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

// mapStorageConfig reports enabled=false when no history store is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none", "disabled", "off":
		return storage.Config{}, false, nil
	case "file", "sqlite":
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy, MaxRecords: sc.MaxRecords}, true, nil
}

// mapCommand converts a validated job entry into a runner command.
func mapCommand(j config.JobConfig) (runner.Command, error) {
	if len(j.Command) == 0 || strings.TrimSpace(j.Command[0]) == "" {
		return runner.Command{}, runner.ErrNoCommand
	}
	timeout, err := config.ParseDurationField("timeout", j.Timeout)
	if err != nil {
		return runner.Command{}, err
	}
	retryBase, err := config.ParseDurationField("retry_base", j.RetryBase)
	if err != nil {
		return runner.Command{}, err
	}
	return runner.Command{
		Name:      j.Command[0],
		Args:      append([]string(nil), j.Command[1:]...),
		Dir:       strings.TrimSpace(j.Dir),
		Env:       append([]string(nil), j.Env...),
		Timeout:   timeout,
		Overlap:   runner.ParseOverlap(j.Overlap),
		Retries:   j.Retries,
		RetryBase: retryBase,
	}, nil
}

func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	d := cfg.Debug
	read, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second)
	if err != nil {
		return debug.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 2*time.Minute)
	if err != nil {
		return debug.Config{}, err
	}
	return debug.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		ReadTimeout:          read,
		IdleTimeout:          idle,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}, nil
}
