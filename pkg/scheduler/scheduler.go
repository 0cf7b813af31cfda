package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cadence/pkg/eventbus"
	"cadence/pkg/logx"
)

// DefaultMaxSleep bounds a single wait between ticks.
const DefaultMaxSleep = time.Minute

// Event types published on the bus.
const (
	EventTaskStarted  = "task.started"
	EventTaskFinished = "task.finished"
	EventTaskFailed   = "task.failed"
)

// Config controls the scheduler loop.
type Config struct {
	// MaxSleep caps the wait between ticks so the loop stays responsive to clock
	// jumps and timer drift. 0 means DefaultMaxSleep.
	MaxSleep time.Duration
}

// TaskEvent is the payload of task lifecycle events.
type TaskEvent struct {
	Job       string        `json:"job"`
	Scheduled time.Time     `json:"scheduled"`
	Started   time.Time     `json:"started"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

type Option func(*Scheduler)

// WithClock replaces the wall clock, e.g. with a FakeClock in tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// Scheduler owns a set of jobs and wakes up when the soonest one is due.
type Scheduler struct {
	log   logx.Logger
	bus   eventbus.Bus
	clock Clock

	mu      sync.Mutex
	cfg     Config
	jobs    []*Job
	running bool
	// gen invalidates wake-ups armed before the latest Start/Stop.
	gen   uint64
	timer Timer
	ctx   context.Context

	inflight int
	idle     chan struct{}

	// tickMu serializes ticks.
	tickMu sync.Mutex
	ticks  atomic.Uint64
}

// New creates a stopped scheduler. bus may be nil.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Scheduler{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		clock: RealClock(),
		ctx:   context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewJob returns an empty job that reads the scheduler's clock when finalized.
func (s *Scheduler) NewJob() *Job {
	return newJob(s.clock)
}

// Add validates job and appends it. A rejected job leaves the scheduler untouched.
// Add is safe to call while the loop runs; the job is picked up by the next tick.
// An accepted job can no longer be reconfigured, and it can be added only once.
func (s *Scheduler) Add(job *Job) error {
	if job == nil {
		return errors.New("scheduler: nil job")
	}
	if err := job.Validate(); err != nil {
		s.log.Warn("job rejected", logx.String("job", job.Name()), logx.Err(err))
		return err
	}
	if !job.owned.CompareAndSwap(false, true) {
		return ErrJobAlreadyAdded
	}
	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	total := len(s.jobs)
	s.mu.Unlock()

	fields := []logx.Field{
		logx.String("job", job.Name()),
		logx.String("schedule", job.Schedule()),
		logx.Time("next", job.NextRun()),
		logx.Int("jobs", total),
	}
	if preview := s.previewNextRuns(job, 4); preview != "" {
		fields = append(fields, logx.String("upcoming", preview))
	}
	s.log.Debug("job added", fields...)
	return nil
}

// Start runs the first tick immediately and keeps ticking until Stop, until ctx is
// cancelled, or until no jobs are registered. ctx is also the parent context of every
// task. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.gen++
	gen := s.gen
	s.ctx = ctx
	jobs := len(s.jobs)
	maxSleep := s.maxSleepLocked()
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.Int("jobs", jobs), logx.Duration("max_sleep", maxSleep))
	s.tick(gen)
}

// Stop cancels the pending wake-up. Tasks already dispatched keep running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.haltLocked()
	s.mu.Unlock()
	s.log.Info("scheduler stopped")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Drain waits until every dispatched task has finished or ctx is done.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.mu.Lock()
	if s.inflight == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply updates the loop configuration. A new MaxSleep takes effect after the
// currently armed wake-up.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Scheduler) haltLocked() {
	s.running = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) maxSleepLocked() time.Duration {
	if s.cfg.MaxSleep > 0 {
		return s.cfg.MaxSleep
	}
	return DefaultMaxSleep
}

// tick fires every due job and arms the next wake-up.
func (s *Scheduler) tick(gen uint64) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	if !s.running || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if err := s.ctx.Err(); err != nil {
		s.haltLocked()
		s.mu.Unlock()
		s.log.Info("scheduler stopped: context done", logx.Err(err))
		return
	}
	if len(s.jobs) == 0 {
		s.haltLocked()
		s.mu.Unlock()
		s.log.Info("scheduler stopped: no jobs registered")
		return
	}
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	ctx := s.ctx
	sleep := s.maxSleepLocked()
	s.mu.Unlock()

	s.ticks.Add(1)
	now := s.clock.Now()
	due := 0
	for _, j := range jobs {
		next := j.NextRun()
		if !now.Before(next) {
			due++
			s.dispatch(ctx, j, next, now)
			// Reschedule from the tick's reference time, not from task completion.
			next = j.NextRunAfter(now)
			j.mu.Lock()
			j.nextRun = next
			j.mu.Unlock()
		}
		if wait := next.Sub(now); wait > 0 && wait < sleep {
			sleep = wait
		}
	}

	s.mu.Lock()
	if s.running && s.gen == gen {
		s.timer = s.clock.AfterFunc(sleep, func() { s.tick(gen) })
	}
	s.mu.Unlock()

	if due > 0 {
		s.log.Trace("tick", logx.Int("due", due), logx.Duration("sleep", sleep))
	}
}

// dispatch launches the job's task without blocking the tick.
func (s *Scheduler) dispatch(ctx context.Context, j *Job, scheduled, now time.Time) {
	j.mu.Lock()
	j.runs++
	j.inFlight++
	j.prevRun = now
	j.mu.Unlock()

	s.mu.Lock()
	if s.inflight == 0 {
		s.idle = make(chan struct{})
	}
	s.inflight++
	s.mu.Unlock()

	name := j.Name()
	task := j.task
	go func() {
		defer s.taskDone()
		started := s.clock.Now()
		s.publish(EventTaskStarted, TaskEvent{Job: name, Scheduled: scheduled, Started: started})

		err := settle(ctx, name, task)
		dur := s.clock.Now().Sub(started)

		j.mu.Lock()
		j.inFlight--
		if err != nil {
			j.failures++
		}
		j.mu.Unlock()

		if err != nil {
			s.reportFailure(name, err, dur)
			s.publish(EventTaskFailed, TaskEvent{Job: name, Scheduled: scheduled, Started: started, Duration: dur, Error: err.Error()})
			return
		}
		s.log.Debug("task completed", logx.String("job", name), logx.Duration("dur", dur))
		s.publish(EventTaskFinished, TaskEvent{Job: name, Scheduled: scheduled, Started: started, Duration: dur})
	}()
}

func (s *Scheduler) taskDone() {
	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 && s.idle != nil {
		close(s.idle)
		s.idle = nil
	}
	s.mu.Unlock()
}

func (s *Scheduler) reportFailure(job string, err error, dur time.Duration) {
	fields := []logx.Field{logx.String("job", job), logx.Err(err), logx.Duration("dur", dur)}
	var te *TaskExecutionError
	if errors.As(err, &te) && te.Panic != nil {
		fields = append(fields, logx.Stack(te.stack))
	}
	s.log.Error("task execution failed", fields...)
}

func (s *Scheduler) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.clock.Now(), Data: ev})
}

// previewNextRuns returns a short list of upcoming run times for debug logs.
func (s *Scheduler) previewNextRuns(j *Job, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	runs := j.NextRuns(j.NextRun(), n-1)
	var b strings.Builder
	b.WriteString(j.NextRun().Format("2006-01-02 15:04:05"))
	for _, t := range runs {
		b.WriteString(", ")
		b.WriteString(t.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}
