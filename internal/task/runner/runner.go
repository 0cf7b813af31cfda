// Package runner turns configured shell commands into scheduler tasks.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"cadence/pkg/logx"
	"cadence/pkg/scheduler"
)

var (
	ErrNoCommand = errors.New("runner: command is empty")
	// ErrOverlapSkip is logged when a run is skipped because the previous one is still
	// executing. Skipped runs count as successful.
	ErrOverlapSkip = errors.New("run skipped due to overlap policy")
)

type OverlapPolicy int

const (
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

// ParseOverlap maps a config value to a policy. Unknown values fall back to skip.
func ParseOverlap(s string) OverlapPolicy {
	if strings.EqualFold(strings.TrimSpace(s), "allow") {
		return OverlapAllow
	}
	return OverlapSkipIfRunning
}

// Command is one external program run by a job.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env entries (KEY=VALUE) are appended to the daemon's environment.
	Env []string
	// Timeout kills the process after this long. 0 disables it.
	Timeout time.Duration

	Overlap   OverlapPolicy
	Retries   int
	RetryBase time.Duration
	// RetryMaxDelay caps a single backoff. Default 30s.
	RetryMaxDelay time.Duration
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes a Command for a job.
type Runner struct {
	job string
	cmd Command
	log logx.Logger

	running atomic.Int32

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(job string, cmd Command, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cmd.RetryBase <= 0 {
		cmd.RetryBase = time.Second
	}
	if cmd.RetryMaxDelay <= 0 {
		cmd.RetryMaxDelay = 30 * time.Second
	}
	return &Runner{
		job: job,
		cmd: cmd,
		log: log.With(logx.String("job", job)),
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Task returns the scheduler task. The process runs on its own goroutine so the
// scheduler tick never waits for it.
func (r *Runner) Task() scheduler.Task {
	return func(ctx context.Context) scheduler.Completion {
		if r.cmd.Overlap == OverlapSkipIfRunning && !r.running.CompareAndSwap(0, 1) {
			r.log.Warn("previous run still in progress", logx.Err(ErrOverlapSkip))
			return scheduler.Done()
		}
		if r.cmd.Overlap == OverlapAllow {
			r.running.Add(1)
		}
		return scheduler.Go(func() error {
			defer r.running.Add(-1)
			return r.Run(ctx)
		})
	}
}

// Running reports the number of executions currently in progress.
func (r *Runner) Running() int { return int(r.running.Load()) }

// Run executes the command, retrying failures up to Retries times. It blocks until
// the last attempt finishes or ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	if strings.TrimSpace(r.cmd.Name) == "" {
		return ErrNoCommand
	}
	var err error
	for attempt := 1; attempt <= 1+r.cmd.Retries; attempt++ {
		start := time.Now()
		err = r.runOnce(ctx)
		if err == nil {
			if attempt > 1 {
				r.log.Info("command succeeded after retry", logx.Int("attempt", attempt), logx.Duration("dur", time.Since(start)))
			}
			return nil
		}
		var re *RunError
		if errors.As(err, &re) && !re.retryable() {
			return err
		}
		if attempt > r.cmd.Retries {
			break
		}
		delay := r.backoff(attempt)
		r.log.Debug("command retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

func (r *Runner) runOnce(ctx context.Context) error {
	runCtx := ctx
	if r.cmd.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(runCtx, r.cmd.Name, r.cmd.Args...)
	c.Dir = r.cmd.Dir
	if len(r.cmd.Env) > 0 {
		c.Env = append(os.Environ(), r.cmd.Env...)
	}
	out := newTail(outputTailBytes)
	c.Stdout = out
	c.Stderr = out
	// Don't wait forever on pipes held open by grandchildren after a kill.
	c.WaitDelay = 2 * time.Second

	start := time.Now()
	err := c.Run()
	dur := time.Since(start)
	if err == nil {
		r.log.Debug("command finished", logx.String("cmd", r.cmd.String()), logx.Duration("dur", dur))
		return nil
	}

	re := &RunError{Command: r.cmd.String(), ExitCode: -1, Output: out.String(), Err: err}
	var ee *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		re.TimedOut = true
		re.Timeout = r.cmd.Timeout
	case errors.As(err, &ee):
		re.ExitCode = ee.ExitCode()
	case errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission):
		re.Permanent = true
	}
	return re
}

// backoff doubles RetryBase per retry, applies ±20% jitter and caps at RetryMaxDelay.
func (r *Runner) backoff(retry int) time.Duration {
	d := r.cmd.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= r.cmd.RetryMaxDelay {
			d = r.cmd.RetryMaxDelay
			break
		}
	}
	r.rngMu.Lock()
	j := (r.rng.Float64()*2 - 1) * 0.2
	r.rngMu.Unlock()
	d = time.Duration(float64(d) * (1 + j))
	if d > r.cmd.RetryMaxDelay {
		d = r.cmd.RetryMaxDelay
	}
	return d
}

// RunError describes a failed command execution.
type RunError struct {
	Command  string
	ExitCode int
	TimedOut bool
	Timeout  time.Duration
	// Permanent is set when retrying cannot help (e.g. the binary is missing).
	Permanent bool
	// Output is the trimmed tail of combined stdout and stderr.
	Output string
	Err    error
}

func (e *RunError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q", e.Command)
	switch {
	case e.TimedOut:
		fmt.Fprintf(&b, ": timed out after %s", e.Timeout)
	case e.ExitCode >= 0:
		fmt.Fprintf(&b, ": exit status %d", e.ExitCode)
	default:
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		b.WriteString(": ")
		b.WriteString(out)
	}
	return b.String()
}

func (e *RunError) Unwrap() error { return e.Err }

func (e *RunError) retryable() bool { return !e.Permanent }
