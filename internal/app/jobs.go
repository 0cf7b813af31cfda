package app

import (
	"fmt"
	"strings"
	"time"

	"cadence/internal/config"
	"cadence/internal/task/runner"
	"cadence/pkg/logx"
	"cadence/pkg/scheduler"
)

// addJob builds the command task for j and registers it with the scheduler.
func (a *App) addJob(j config.JobConfig) error {
	name := strings.TrimSpace(j.Name)
	a.mu.Lock()
	_, dup := a.jobs[name]
	a.mu.Unlock()
	if dup {
		return fmt.Errorf("job %q: already registered", name)
	}

	job, err := buildJob(a.sched.NewJob(), j, a.log.With(logx.String("comp", "runner")))
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	if err := a.sched.Add(job); err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}

	a.mu.Lock()
	a.jobs[name] = registered{cfg: j, job: job}
	a.order = append(a.order, name)
	a.mu.Unlock()
	a.log.Info("job scheduled",
		logx.String("job", name),
		logx.String("schedule", job.Schedule()),
		logx.Time("next", job.NextRun()),
	)
	return nil
}

// buildJob configures base from the job entry. The returned job may carry a deferred
// configuration error; callers pass it to Scheduler.Add or Validate.
func buildJob(base *scheduler.Job, j config.JobConfig, log logx.Logger) (*scheduler.Job, error) {
	spec, err := scheduler.ParseSchedule(j.Schedule)
	if err != nil {
		return nil, err
	}
	cmd, err := mapCommand(j)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(j.Name)
	task := runner.New(name, cmd, log).Task()
	return spec.Apply(base.Named(name)).Run(task), nil
}

// Upcoming lists the next run times of one job.
type Upcoming struct {
	Job      string
	Schedule string
	Runs     []time.Time
}

// Upcoming previews the next n runs of every registered job, in config order.
func (a *App) Upcoming(n int) []Upcoming {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Upcoming, 0, len(a.order))
	for _, name := range a.order {
		r, ok := a.jobs[name]
		if !ok {
			continue
		}
		out = append(out, Upcoming{
			Job:      name,
			Schedule: r.job.Schedule(),
			Runs:     r.job.NextRuns(now, n),
		})
	}
	return out
}
