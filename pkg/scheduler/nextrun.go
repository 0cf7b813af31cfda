package scheduler

import "time"

// unscheduledDelay is how far an unconfigured job is pushed out so it never busy-loops.
const unscheduledDelay = 365 * 24 * time.Hour

// NextRunAfter computes when the job is next due relative to ref. It depends only on
// the job's schedule and ref.
//
// For time-of-day schedules a candidate equal to ref counts as already passed. Days
// are added as calendar days, so the wall-clock fields stay at HH:MM:SS.000.
func (j *Job) NextRunAfter(ref time.Time) time.Time {
	switch j.kind {
	case kindInterval:
		return ref.Add(j.every)
	case kindTimeOfDay:
		return nextTimeOfDay(ref, j.at, j.days)
	case kindCron:
		// robfig/cron returns the zero time when nothing matches within five years.
		if next := j.cron.Next(ref); !next.IsZero() {
			return next
		}
		return ref.Add(unscheduledDelay)
	default:
		return ref.Add(unscheduledDelay)
	}
}

// NextRuns previews the next n run times after from.
func (j *Job) NextRuns(from time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		next := j.NextRunAfter(t)
		// A zero interval never advances.
		if !next.After(t) {
			break
		}
		out = append(out, next)
		t = next
	}
	return out
}

func nextTimeOfDay(ref time.Time, at timeOfDay, days weekdaySet) time.Time {
	y, m, d := ref.Date()
	loc := ref.Location()
	candidate := time.Date(y, m, d, at.hour, at.minute, at.second, 0, loc)
	if !candidate.After(ref) {
		d++
		candidate = time.Date(y, m, d, at.hour, at.minute, at.second, 0, loc)
	}
	if days.empty() {
		return candidate
	}
	// Weekdays repeat every 7 days, so a non-empty set matches within 7 steps.
	for i := 0; i < 7; i++ {
		if days.has(candidate.Weekday()) {
			return candidate
		}
		d++
		candidate = time.Date(y, m, d, at.hour, at.minute, at.second, 0, loc)
	}
	panic("scheduler: weekday search did not terminate for set " + days.String())
}
