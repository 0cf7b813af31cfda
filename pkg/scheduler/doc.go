// Package scheduler runs recurring in-process jobs.
//
// A Job is configured fluently and finalized with Run:
//
//	job := scheduler.NewJob().Named("report").OnWeekdays().At("17:00").Run(scheduler.Func(sendReport))
//
// Jobs fire either on a fixed interval (Every), at a wall-clock time of day optionally
// restricted to weekdays (At + On), or on a cron expression (Cron). Configuration errors
// are deferred: a bad call stores the error on the job, later calls become no-ops, and
// Scheduler.Add reports it via Job.Validate.
//
// The Scheduler keeps a single pending wake-up for the soonest next run (capped at
// Config.MaxSleep). Each tick dispatches every due job on its own goroutine and reschedules
// it from the tick's reference time, so slow tasks never push their own schedule out.
// Task failures (returned errors, failed completions, panics) are logged and published as
// events; they never reach the caller of Add or Start.
//
// Times are naive wall-clock times in the location of the reference time; there is no DST
// adjustment beyond what time.Date normalization does.
package scheduler
