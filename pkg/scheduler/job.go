package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

type scheduleKind int

const (
	kindNone scheduleKind = iota
	kindInterval
	kindTimeOfDay
	kindCron
)

type timeOfDay struct {
	hour, minute, second int
}

// weekdaySet is a bitmask indexed by time.Weekday (bit 0 = Sunday).
type weekdaySet uint8

func (w weekdaySet) has(d time.Weekday) bool { return w&(1<<uint(d)) != 0 }

func (w weekdaySet) empty() bool { return w == 0 }

func (w weekdaySet) String() string {
	if w.empty() {
		return ""
	}
	names := make([]string, 0, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.has(d) {
			names = append(names, strings.ToLower(d.String()[:3]))
		}
	}
	return strings.Join(names, ",")
}

// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reTimeOfDay = regexp.MustCompile(`^(\d{2}):(\d{2})(?::(\d{2}))?$`)

var jobSeq atomic.Uint64

// Job is a schedule plus the task it triggers.
//
// Configuration methods return the job itself so they can be chained. The first
// failing call stores its error; every later configuration call is then a no-op and
// Validate returns the stored error. Once a scheduler accepts the job, configuration
// calls are ignored as well.
type Job struct {
	name  string
	clock Clock

	kind     scheduleKind
	every    time.Duration
	at       timeOfDay
	days     weekdaySet
	cronSpec string
	cron     cron.Schedule

	task Task
	err  error
	// Set by Scheduler.Add; schedule fields are read-only afterwards.
	owned atomic.Bool

	// Guarded by mu: mutated by the scheduler tick, read by snapshots.
	mu       sync.Mutex
	nextRun  time.Time
	prevRun  time.Time
	runs     uint64
	failures uint64
	inFlight int
}

// NewJob returns an empty job that reads the wall clock when finalized.
func NewJob() *Job {
	return newJob(RealClock())
}

func newJob(c Clock) *Job {
	return &Job{
		name:  "job-" + strconv.FormatUint(jobSeq.Add(1), 10),
		clock: c,
	}
}

// Named sets the label used in logs, events and run history. It applies even when a
// configuration error is pending so the error can be attributed.
func (j *Job) Named(name string) *Job {
	if j.owned.Load() {
		return j
	}
	if n := strings.TrimSpace(name); n != "" {
		j.name = n
	}
	return j
}

func (j *Job) Name() string { return j.name }

// Every runs the job at a fixed interval. It discards any time-of-day, weekday or cron
// configuration. Negative intervals are rejected. A zero interval is due on every tick,
// but zero waits never pick the sleep, so it fires once per Config.MaxSleep (1m by default).
func (j *Job) Every(d time.Duration) *Job {
	if j.frozen() {
		return j
	}
	if d < 0 {
		j.err = fmt.Errorf("%w: %s must be >= 0", ErrInvalidInterval, d)
		return j
	}
	j.kind = kindInterval
	j.every = d
	j.at = timeOfDay{}
	j.days = 0
	j.cronSpec, j.cron = "", nil
	return j
}

// At runs the job at a time of day given as "HH:MM" or "HH:MM:SS" (24-hour, zero-padded).
// On a malformed value the previous schedule is left untouched and the error is deferred.
func (j *Job) At(value string) *Job {
	if j.frozen() {
		return j
	}
	tod, ok := parseTimeOfDay(value)
	if !ok {
		j.err = &InvalidTimeFormatError{Value: value}
		return j
	}
	j.kind = kindTimeOfDay
	j.at = tod
	j.every = 0
	j.cronSpec, j.cron = "", nil
	return j
}

// On restricts a time-of-day job to the given weekday. It can be called repeatedly;
// with no weekdays the job runs every day. Ignored by interval and cron schedules.
func (j *Job) On(day time.Weekday) *Job {
	if j.frozen() {
		return j
	}
	if day < time.Sunday || day > time.Saturday {
		j.err = fmt.Errorf("invalid weekday %d", int(day))
		return j
	}
	j.days |= 1 << uint(day)
	return j
}

// OnWeekdays restricts the job to Monday through Friday.
func (j *Job) OnWeekdays() *Job {
	return j.On(time.Monday).On(time.Tuesday).On(time.Wednesday).On(time.Thursday).On(time.Friday)
}

// OnWeekend restricts the job to Saturday and Sunday.
func (j *Job) OnWeekend() *Job {
	return j.On(time.Saturday).On(time.Sunday)
}

// Cron runs the job on a cron expression (5 or 6 fields, or a descriptor such as
// "@hourly"). It discards interval, time-of-day and weekday configuration.
func (j *Job) Cron(expr string) *Job {
	if j.frozen() {
		return j
	}
	expr = strings.TrimSpace(expr)
	sched, err := cronParser.Parse(expr)
	if err != nil {
		j.err = fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
		return j
	}
	j.kind = kindCron
	j.cronSpec, j.cron = expr, sched
	j.every = 0
	j.at = timeOfDay{}
	j.days = 0
	return j
}

// Run attaches the task and computes the first next-run time from the current time.
// It is the finalization step; it does nothing when a configuration error is pending.
func (j *Job) Run(task Task) *Job {
	if j.frozen() {
		return j
	}
	j.task = task
	next := j.NextRunAfter(j.clock.Now())
	j.mu.Lock()
	j.nextRun = next
	j.mu.Unlock()
	return j
}

// frozen reports whether configuration calls must be ignored.
func (j *Job) frozen() bool { return j.err != nil || j.owned.Load() }

// Validate reports the first configuration error, or ErrTaskNotSet when Run was never
// called with a task.
func (j *Job) Validate() error {
	if j.err != nil {
		return j.err
	}
	if j.task == nil {
		return ErrTaskNotSet
	}
	return nil
}

// NextRun returns the time the job is next due.
func (j *Job) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextRun
}

// Schedule describes the active schedule, e.g. "every 5s" or "at 17:00:00 on mon,fri".
func (j *Job) Schedule() string {
	switch j.kind {
	case kindInterval:
		return "every " + j.every.String()
	case kindTimeOfDay:
		s := fmt.Sprintf("at %02d:%02d:%02d", j.at.hour, j.at.minute, j.at.second)
		if !j.days.empty() {
			s += " on " + j.days.String()
		}
		return s
	case kindCron:
		return "cron " + j.cronSpec
	default:
		return "none"
	}
}

func parseTimeOfDay(value string) (timeOfDay, bool) {
	m := reTimeOfDay.FindStringSubmatch(value)
	if m == nil {
		return timeOfDay{}, false
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec := 0
	if m[3] != "" {
		sec, _ = strconv.Atoi(m[3])
	}
	if h > 23 || mi > 59 || sec > 59 {
		return timeOfDay{}, false
	}
	return timeOfDay{hour: h, minute: mi, second: sec}, true
}
