package scheduler

import "time"

type JobInfo struct {
	Name     string
	Schedule string
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	Failures uint64
	InFlight int
}

type Snapshot struct {
	Running  bool
	MaxSleep time.Duration
	Ticks    uint64
	InFlight int
	Jobs     []JobInfo
}

// Snapshot returns a point-in-time view for diagnostics, in insertion order.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	snap := Snapshot{
		Running:  s.running,
		MaxSleep: s.maxSleepLocked(),
		InFlight: s.inflight,
	}
	s.mu.Unlock()
	snap.Ticks = s.ticks.Load()

	snap.Jobs = make([]JobInfo, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		snap.Jobs = append(snap.Jobs, JobInfo{
			Name:     j.name,
			Schedule: j.Schedule(),
			Next:     j.nextRun,
			Prev:     j.prevRun,
			Runs:     j.runs,
			Failures: j.failures,
			InFlight: j.inFlight,
		})
		j.mu.Unlock()
	}
	return snap
}
