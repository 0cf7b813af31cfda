package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cadence/internal/observability/debug"
	"cadence/pkg/scheduler"
)

const (
	DefaultDrainTimeout = 30 * time.Second
)

// Validate checks the whole config and reports every problem it finds, each prefixed
// with the offending path.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := ParseDurationField("scheduler.max_sleep", cfg.Scheduler.MaxSleep); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("scheduler.drain_timeout", cfg.Scheduler.DrainTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Scheduler.Location(); err != nil {
		errs = append(errs, err)
	}

	if s := cfg.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "disabled", "off", "file", "sqlite":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
		if s.MaxRecords < 0 {
			errs = append(errs, errors.New("storage.max_records: must be >= 0"))
		}
	}

	if t := cfg.Logging.Telegram; t.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("logging.telegram: enabled but telegram.token is empty"))
		}
		if t.ChatID == 0 {
			errs = append(errs, errors.New("logging.telegram.chat_id: required when enabled"))
		}
	}

	if d := cfg.Debug; d.Enabled || strings.TrimSpace(d.Addr) != "" {
		if _, err := ParseDurationField("debug.read_timeout", d.ReadTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("debug.idle_timeout", d.IdleTimeout); err != nil {
			errs = append(errs, err)
		}
		if d.MutexProfileFraction < 0 || d.BlockProfileRate < 0 {
			errs = append(errs, errors.New("debug: profile rates must be >= 0"))
		}
		if d.Enabled {
			if err := debug.CheckExposure(debug.Config{Addr: d.Addr, Token: d.Token, AllowInsecure: d.AllowInsecure}); err != nil {
				errs = append(errs, fmt.Errorf("debug.addr: %w", err))
			}
		}
	}

	seen := make(map[string]int, len(cfg.Jobs))
	for i, j := range cfg.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if prev, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("%s.name: %q already used by jobs[%d]", path, name, prev))
		} else {
			seen[name] = i
		}
		if err := ValidateJob(j); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}

	return errors.Join(errs...)
}

// ValidateJob checks a single job entry. Disabled entries are still validated so a
// later enable cannot fail.
func ValidateJob(j JobConfig) error {
	ps, err := scheduler.ParseSchedule(j.Schedule)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	probe := ps.Apply(scheduler.NewJob()).Run(scheduler.Func(func() {}))
	if err := probe.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if len(j.Command) == 0 || strings.TrimSpace(j.Command[0]) == "" {
		return errors.New("command: required")
	}
	for _, kv := range j.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("env: %q is not KEY=VALUE", kv)
		}
	}
	if _, err := ParseDurationField("timeout", j.Timeout); err != nil {
		return err
	}
	if j.Retries < 0 {
		return errors.New("retries: must be >= 0")
	}
	if _, err := ParseDurationField("retry_base", j.RetryBase); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(j.Overlap)) {
	case "", "skip", "allow":
	default:
		return fmt.Errorf("overlap: unknown policy %q (use skip or allow)", j.Overlap)
	}
	return nil
}

// Location resolves the schedule timezone. Empty means the host's local zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Loop converts the section into the scheduler's loop configuration.
func (s SchedulerConfig) Loop() (scheduler.Config, error) {
	d, err := ParseDurationOrDefault("scheduler.max_sleep", s.MaxSleep, scheduler.DefaultMaxSleep)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{MaxSleep: d}, nil
}

func (s SchedulerConfig) Drain() time.Duration {
	d, err := ParseDurationOrDefault("scheduler.drain_timeout", s.DrainTimeout, DefaultDrainTimeout)
	if err != nil {
		return DefaultDrainTimeout
	}
	return d
}

// ParseDurationField parses an optional non-negative Go duration. Empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for 0.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
