package config

import (
	"reflect"
	"sort"
	"strings"

	"cadence/pkg/logx"
)

// JobDiff lists job names by how they changed between two configs.
type JobDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d JobDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the per-job diff.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, JobDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Telegram: only report whether the token changed, never its value.
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""))
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	o, n := oldCfg.Scheduler, newCfg.Scheduler
	if strings.TrimSpace(o.MaxSleep) != strings.TrimSpace(n.MaxSleep) ||
		strings.TrimSpace(o.Timezone) != strings.TrimSpace(n.Timezone) ||
		strings.TrimSpace(o.DrainTimeout) != strings.TrimSpace(n.DrainTimeout) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.max_sleep", strings.TrimSpace(n.MaxSleep)),
			logx.String("scheduler.timezone", strings.TrimSpace(n.Timezone)),
			logx.String("scheduler.drain_timeout", strings.TrimSpace(n.DrainTimeout)),
		)
	}

	// Nil storage means disabled.
	var oDriver, nDriver, oBusy, nBusy, oPath, nPath string
	var oMax, nMax int
	if s := oldCfg.Storage; s != nil {
		oDriver, oBusy, oPath, oMax = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path), s.MaxRecords
	}
	if s := newCfg.Storage; s != nil {
		nDriver, nBusy, nPath, nMax = strings.TrimSpace(s.Driver), strings.TrimSpace(s.BusyTimeout), strings.TrimSpace(s.Path), s.MaxRecords
	}
	if oDriver != nDriver || oBusy != nBusy || oPath != nPath || oMax != nMax {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPath != ""),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs)
	if !jobs.Empty() {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.added", len(jobs.Added)),
			logx.Int("jobs.removed", len(jobs.Removed)),
			logx.Int("jobs.changed", len(jobs.Changed)),
			logx.Int("jobs.total", len(newCfg.Jobs)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, jobs
}

// diffJobs compares jobs by name. Disabled entries count as absent.
func diffJobs(oldJobs, newJobs []JobConfig) JobDiff {
	index := func(js []JobConfig) map[string]JobConfig {
		m := make(map[string]JobConfig, len(js))
		for _, j := range js {
			if j.Disabled {
				continue
			}
			m[strings.TrimSpace(j.Name)] = j
		}
		return m
	}
	om, nm := index(oldJobs), index(newJobs)

	var d JobDiff
	for name, nj := range nm {
		oj, ok := om[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case !reflect.DeepEqual(oj, nj):
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range om {
		if _, ok := nm[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}
