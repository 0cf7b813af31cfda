package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	_ "time/tzdata"
)

// mondayNoon is 2025-11-10 12:00:00 UTC, a Monday.
var mondayNoon = time.Date(2025, time.November, 10, 12, 0, 0, 0, time.UTC)

func noop() Task { return Func(func() {}) }

func TestNextRunInterval(t *testing.T) {
	t.Parallel()
	for _, d := range []time.Duration{0, time.Millisecond, 5 * time.Second, 5 * time.Minute, 36 * time.Hour} {
		job := NewJob().Every(d).Run(noop())
		if got, want := job.NextRunAfter(mondayNoon), mondayNoon.Add(d); !got.Equal(want) {
			t.Fatalf("Every(%v): next = %v, want %v", d, got, want)
		}
	}
}

func TestNextRunTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		at   string
		ref  time.Time
		want time.Time
	}{
		{name: "later today", at: "14:00", ref: mondayNoon, want: time.Date(2025, 11, 10, 14, 0, 0, 0, time.UTC)},
		{name: "passed today", at: "10:00", ref: mondayNoon, want: time.Date(2025, 11, 11, 10, 0, 0, 0, time.UTC)},
		{name: "exactly now counts as passed", at: "12:00", ref: mondayNoon, want: time.Date(2025, 11, 11, 12, 0, 0, 0, time.UTC)},
		{name: "with seconds", at: "12:00:01", ref: mondayNoon, want: time.Date(2025, 11, 10, 12, 0, 1, 0, time.UTC)},
		{name: "sub-second ref", at: "12:00:00", ref: mondayNoon.Add(-time.Millisecond), want: mondayNoon},
		{name: "month rollover", at: "08:00", ref: time.Date(2025, 11, 30, 9, 0, 0, 0, time.UTC), want: time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)},
		{name: "year rollover", at: "00:00", ref: time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC), want: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{name: "leap day", at: "06:30", ref: time.Date(2028, 2, 28, 7, 0, 0, 0, time.UTC), want: time.Date(2028, 2, 29, 6, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job := NewJob().At(tt.at).Run(noop())
			if err := job.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			got := job.NextRunAfter(tt.ref)
			if !got.Equal(tt.want) {
				t.Fatalf("next = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextRunTimeOfDayAcrossDST(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	tests := []struct {
		name    string
		job     *Job
		ref     time.Time
		wantDay int
		wantOff int
	}{
		// 2025-11-02 02:00 EDT falls back to 01:00 EST.
		{name: "fall back", job: NewJob().At("09:00"), ref: time.Date(2025, 11, 1, 10, 0, 0, 0, ny), wantDay: 2, wantOff: -5 * 3600},
		// 2025-03-09 02:00 EST springs forward to 03:00 EDT.
		{name: "spring forward", job: NewJob().At("09:00"), ref: time.Date(2025, 3, 8, 10, 0, 0, 0, ny), wantDay: 9, wantOff: -4 * 3600},
		{name: "weekday after fall back", job: NewJob().On(time.Monday).At("09:00"), ref: time.Date(2025, 11, 1, 10, 0, 0, 0, ny), wantDay: 3, wantOff: -5 * 3600},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.job.Run(noop()).NextRunAfter(tt.ref)
			if got.Hour() != 9 || got.Minute() != 0 || got.Day() != tt.wantDay {
				t.Fatalf("next = %v, want day %d at 09:00 local", got, tt.wantDay)
			}
			if _, off := got.Zone(); off != tt.wantOff {
				t.Fatalf("next = %v, zone offset %d, want %d", got, off, tt.wantOff)
			}
		})
	}
}

func TestNextRunWeekdays(t *testing.T) {
	t.Parallel()
	job := NewJob().On(time.Wednesday).At("14:00").Run(noop())
	got := job.NextRunAfter(mondayNoon)
	want := time.Date(2025, 11, 12, 14, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
	if got.Weekday() != time.Wednesday {
		t.Fatalf("weekday = %v, want Wednesday", got.Weekday())
	}
}

func TestNextRunWeekdaySetMembership(t *testing.T) {
	t.Parallel()
	sets := map[string]*Job{
		"weekdays": NewJob().OnWeekdays().At("09:15"),
		"weekend":  NewJob().OnWeekend().At("09:15"),
		"sunday":   NewJob().On(time.Sunday).At("23:59:59"),
		"mon+fri":  NewJob().On(time.Monday).On(time.Friday).At("00:00"),
	}
	for name, job := range sets {
		job.Run(noop())
		ref := mondayNoon
		// Walk two weeks hour by hour; every result must be in the set and be the
		// earliest matching day at or after the same/next-day candidate.
		for i := 0; i < 24*14; i++ {
			got := job.NextRunAfter(ref)
			if !job.days.has(got.Weekday()) {
				t.Fatalf("%s: next %v falls on %v", name, got, got.Weekday())
			}
			if !got.After(ref) {
				t.Fatalf("%s: next %v not after ref %v", name, got, ref)
			}
			if got.Sub(ref) > 7*24*time.Hour {
				t.Fatalf("%s: next %v more than a week after %v", name, got, ref)
			}
			for d := ref; d.Before(got.Add(-24 * time.Hour)); d = d.Add(24 * time.Hour) {
				c := time.Date(d.Year(), d.Month(), d.Day(), got.Hour(), got.Minute(), got.Second(), 0, time.UTC)
				if c.After(ref) && c.Before(got) && job.days.has(c.Weekday()) {
					t.Fatalf("%s: skipped earlier match %v (got %v)", name, c, got)
				}
			}
			ref = ref.Add(time.Hour)
		}
	}
}

func TestNextRunCron(t *testing.T) {
	t.Parallel()
	job := NewJob().Cron("*/15 * * * *").Run(noop())
	got := job.NextRunAfter(mondayNoon.Add(time.Minute))
	if want := mondayNoon.Add(15 * time.Minute); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
	sec := NewJob().Cron("30 0 9 * * MON").Run(noop())
	if got, want := sec.NextRunAfter(mondayNoon), time.Date(2025, 11, 17, 9, 0, 30, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("6-field next = %v, want %v", got, want)
	}
}

func TestNextRunUnconfigured(t *testing.T) {
	t.Parallel()
	job := NewJob()
	if got, want := job.NextRunAfter(mondayNoon), mondayNoon.Add(365*24*time.Hour); !got.Equal(want) {
		t.Fatalf("next = %v, want %v", got, want)
	}
}

func TestLastScheduleWins(t *testing.T) {
	t.Parallel()
	job := NewJob().On(time.Friday).At("14:00").Every(5 * time.Second).Run(noop())
	if got, want := job.NextRunAfter(mondayNoon), mondayNoon.Add(5*time.Second); !got.Equal(want) {
		t.Fatalf("interval after at: next = %v, want %v", got, want)
	}
	if job.Schedule() != "every 5s" {
		t.Fatalf("Schedule = %q", job.Schedule())
	}

	job = NewJob().Every(5 * time.Second).At("14:00").Run(noop())
	if got, want := job.NextRunAfter(mondayNoon), time.Date(2025, 11, 10, 14, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("at after interval: next = %v, want %v", got, want)
	}

	job = NewJob().Cron("0 0 1 1 *").Every(time.Minute).Run(noop())
	if got, want := job.NextRunAfter(mondayNoon), mondayNoon.Add(time.Minute); !got.Equal(want) {
		t.Fatalf("interval after cron: next = %v, want %v", got, want)
	}
}

func TestDeferredConfigErrors(t *testing.T) {
	t.Parallel()

	ok := NewJob().Every(time.Second).Run(noop())
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid job: %v", err)
	}

	bad := NewJob().At("bad-time").Run(noop())
	err := bad.Validate()
	if !errors.Is(err, ErrInvalidTimeFormat) {
		t.Fatalf("err = %v, want ErrInvalidTimeFormat", err)
	}
	var itf *InvalidTimeFormatError
	if !errors.As(err, &itf) || itf.Value != "bad-time" {
		t.Fatalf("err = %#v, want InvalidTimeFormatError{bad-time}", err)
	}

	noTask := NewJob().Every(time.Second)
	if err := noTask.Validate(); !errors.Is(err, ErrTaskNotSet) {
		t.Fatalf("err = %v, want ErrTaskNotSet", err)
	}
}

func TestInvalidTimeFormats(t *testing.T) {
	t.Parallel()
	for _, v := range []string{"", "9:00", "09:0", "0900", "24:00", "12:60", "12:00:60", "12:00:00:00", " 12:00", "12:00pm", "12:00Z"} {
		if err := NewJob().At(v).Run(noop()).Validate(); !errors.Is(err, ErrInvalidTimeFormat) {
			t.Fatalf("At(%q): err = %v, want ErrInvalidTimeFormat", v, err)
		}
	}
	for _, v := range []string{"00:00", "23:59", "23:59:59", "07:05:09"} {
		if err := NewJob().At(v).Run(noop()).Validate(); err != nil {
			t.Fatalf("At(%q): %v", v, err)
		}
	}
}

func TestErrorIsSticky(t *testing.T) {
	t.Parallel()
	job := NewJob().Every(time.Minute).At("nope").Every(time.Second).On(time.Monday).Cron("@hourly").Run(noop())
	if !errors.Is(job.Validate(), ErrInvalidTimeFormat) {
		t.Fatalf("err = %v", job.Validate())
	}
	// The failing At left the earlier interval in place and later calls were ignored.
	if job.Schedule() != "every 1m0s" {
		t.Fatalf("Schedule = %q, want every 1m0s", job.Schedule())
	}
	if job.task != nil {
		t.Fatal("Run should not attach a task after a configuration error")
	}
}

func TestInvalidIntervalAndCron(t *testing.T) {
	t.Parallel()
	if err := NewJob().Every(-time.Second).Run(noop()).Validate(); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("negative interval: err = %v", err)
	}
	if err := NewJob().Cron("not a cron").Run(noop()).Validate(); !errors.Is(err, ErrInvalidCron) {
		t.Fatalf("bad cron: err = %v", err)
	}
}

func TestRunComputesInitialNextRun(t *testing.T) {
	t.Parallel()
	clock := NewFakeClock(mondayNoon)
	job := newJob(clock).At("14:00").Run(noop())
	if got, want := job.NextRun(), time.Date(2025, 11, 10, 14, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", got, want)
	}
}

func TestNextRunsPreview(t *testing.T) {
	t.Parallel()
	job := NewJob().OnWeekend().At("08:00").Run(noop())
	got := job.NextRuns(mondayNoon, 3)
	want := []time.Time{
		time.Date(2025, 11, 15, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 16, 8, 0, 0, 0, time.UTC),
		time.Date(2025, 11, 22, 8, 0, 0, 0, time.UTC),
	}
	if len(got) != len(want) {
		t.Fatalf("got %d runs, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("run %d = %v, want %v", i, got[i], want[i])
		}
	}
	if runs := NewJob().Every(0).Run(noop()).NextRuns(mondayNoon, 3); len(runs) != 0 {
		t.Fatalf("zero interval preview = %v, want empty", runs)
	}
}

func TestSchedulesDescribe(t *testing.T) {
	t.Parallel()
	tests := map[string]*Job{
		"at 17:00:00 on mon,tue,wed,thu,fri": NewJob().OnWeekdays().At("17:00"),
		"at 09:30:00 on sun":                 NewJob().On(time.Sunday).At("09:30"),
		"cron @daily":                        NewJob().Cron("@daily"),
		"none":                               NewJob(),
	}
	for want, job := range tests {
		if got := job.Schedule(); got != want {
			t.Fatalf("Schedule = %q, want %q", got, want)
		}
	}
}

func TestSettleCapturesEveryFailureMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	boom := errors.New("boom")

	if err := settle(ctx, "ok", Func(func() {})); err != nil {
		t.Fatalf("sync success: %v", err)
	}
	if err := settle(ctx, "nil", func(context.Context) Completion { return nil }); err != nil {
		t.Fatalf("nil completion: %v", err)
	}
	if err := settle(ctx, "err", FuncErr(func(context.Context) error { return boom })); !errors.Is(err, boom) {
		t.Fatalf("sync error: %v", err)
	}
	err := settle(ctx, "panic", Func(func() { panic("kaboom") }))
	var te *TaskExecutionError
	if !errors.As(err, &te) || te.Panic != "kaboom" || te.Job != "panic" {
		t.Fatalf("panic: %#v", err)
	}
	if err := settle(ctx, "async", Async(func(context.Context) error { return boom })); !errors.Is(err, boom) {
		t.Fatalf("async error: %v", err)
	}
	if err := settle(ctx, "async-panic", Async(func(context.Context) error { panic("late") })); err == nil {
		t.Fatal("async panic should surface as error")
	}
	ch := make(chan error)
	close(ch)
	if err := settle(ctx, "closed", func(context.Context) Completion { return Deferred(ch) }); err != nil {
		t.Fatalf("closed channel: %v", err)
	}
}

func TestAddedJobIsFrozen(t *testing.T) {
	t.Parallel()
	s, _, _, _ := newFakeScheduler(t, Config{})
	first := Func(func() {})
	job := s.NewJob().Named("fixed").Every(time.Second).Run(first)
	if err := s.Add(job); err != nil {
		t.Fatalf("Add: %v", err)
	}
	next := job.NextRun()

	job.Named("renamed").At("08:00").On(time.Monday).Cron("@hourly").Every(time.Hour).Run(Func(func() {}))
	if job.Name() != "fixed" || job.Schedule() != "every 1s" {
		t.Fatalf("job reconfigured after Add: %s %q", job.Name(), job.Schedule())
	}
	if !job.NextRun().Equal(next) {
		t.Fatalf("NextRun = %v, want %v", job.NextRun(), next)
	}
	if err := s.Add(job); !errors.Is(err, ErrJobAlreadyAdded) {
		t.Fatalf("second Add: err = %v, want ErrJobAlreadyAdded", err)
	}
	if n := len(s.Snapshot().Jobs); n != 1 {
		t.Fatalf("jobs = %d, want 1", n)
	}
}
