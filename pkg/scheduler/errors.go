package scheduler

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTimeFormat = errors.New("invalid time format")
	ErrInvalidInterval   = errors.New("invalid interval")
	ErrInvalidCron       = errors.New("invalid cron expression")
	ErrTaskNotSet        = errors.New("job was not given a task to run; call Run to set one")
	ErrJobAlreadyAdded   = errors.New("job already added to a scheduler")
)

// InvalidTimeFormatError carries the offending At() argument.
type InvalidTimeFormatError struct {
	Value string
}

func (e *InvalidTimeFormatError) Error() string {
	return fmt.Sprintf("invalid time format: %q, expected HH:MM or HH:MM:SS", e.Value)
}

func (e *InvalidTimeFormatError) Unwrap() error { return ErrInvalidTimeFormat }

// TaskExecutionError wraps a failure of a dispatched task. It is only ever logged
// and published on the event bus.
type TaskExecutionError struct {
	Job string
	Err error
	// Panic is set when the task panicked instead of returning an error.
	Panic any

	stack string
}

func (e *TaskExecutionError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("job %s: panic: %v", e.Job, e.Panic)
	}
	return fmt.Sprintf("job %s: %v", e.Job, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }
