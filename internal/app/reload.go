package app

import (
	"context"
	"errors"
	"slices"
	"strings"

	"cadence/internal/config"
	"cadence/pkg/logx"
)

// Sections of the config that are only read at startup.
var restartSections = []string{"storage", "telegram"}

// validateReload rejects reloads the running process cannot honor.
func (a *App) validateReload(_ context.Context, cfg *config.Config) error {
	if cfg.Logging.Telegram.Enabled && a.sender == nil {
		return errors.New("logging.telegram: the chat sink needs telegram.token at startup; restart to enable it")
	}
	return nil
}

// reloadLoop applies published configs until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig applies the parts of newCfg that can change at runtime: logging,
// scheduler.max_sleep and newly added jobs. Everything else is logged as needing a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, jobs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}

	if slices.Contains(sections, "scheduler") {
		if loop, err := newCfg.Scheduler.Loop(); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(loop)
		}
		if strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
			a.log.Warn("scheduler.timezone changed; restart required for changes to take effect")
		}
	}

	if slices.Contains(sections, "debug") {
		a.applyDebug(ctx, newCfg)
	}

	for _, s := range restartSections {
		if slices.Contains(sections, s) {
			a.log.Warn(s+" config changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if !jobs.Empty() {
		added := 0
		for _, j := range newCfg.Jobs {
			if j.Disabled || !slices.Contains(jobs.Added, strings.TrimSpace(j.Name)) {
				continue
			}
			if err := a.addJob(j); err != nil {
				a.log.Warn("job not added", logx.String("job", j.Name), logx.Err(err))
				continue
			}
			added++
		}
		if len(jobs.Removed) > 0 || len(jobs.Changed) > 0 {
			a.log.Warn("jobs removed or changed; restart required for changes to take effect",
				logx.Any("removed", jobs.Removed),
				logx.Any("changed", jobs.Changed),
			)
		}
		// The loop exits when it has no jobs, so jobs added to an empty daemon need a
		// fresh start.
		if added > 0 && !a.sched.Running() && ctx.Err() == nil {
			a.sched.Start(ctx)
		}
	}

	a.log.Info("config reloaded", fields...)
}
