package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cadence/internal/config"
	"cadence/internal/observability/debug"
	"cadence/internal/runtime/supervisor"
	"cadence/internal/storage"
	"cadence/internal/transport/telegram"
	"cadence/pkg/eventbus"
	"cadence/pkg/logx"
	"cadence/pkg/scheduler"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log    logx.Logger
	logs   *logx.Service
	sender logx.Sender
	bus    eventbus.Bus
	store  storage.Store
	sched  *scheduler.Scheduler
	clock  scheduler.Clock
	debug  *debug.Server

	// mu guards jobs, the entries currently registered with the scheduler.
	mu   sync.Mutex
	jobs map[string]registered
	// order keeps config order for listings.
	order []string

	closeOnce sync.Once
}

type registered struct {
	cfg config.JobConfig
	job *scheduler.Job
}

type Option func(*options)

type options struct {
	clock  scheduler.Clock
	sender logx.Sender
}

// WithClock replaces the wall clock. The configured timezone is still applied on top.
func WithClock(c scheduler.Clock) Option { return func(o *options) { o.clock = c } }

// WithSender replaces the Telegram client used by the chat log sink.
func WithSender(s logx.Sender) Option { return func(o *options) { o.sender = s } }

// New loads the config at cfgPath and builds every component. Jobs are registered but
// nothing runs until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	sender := o.sender
	if sender == nil && strings.TrimSpace(cfg.Telegram.Token) != "" {
		bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
		tg, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, bootLog)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sender = tg
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg), sender)
	appLog := log.With(logx.String("comp", "app"))

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		appLog.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	loop, err := cfg.Scheduler.Loop()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	clock := o.clock
	if clock == nil {
		clock = scheduler.RealClock()
	}
	clock = scheduler.InLocation(clock, loc)

	bus := eventbus.New()
	a := &App{
		cfgm:   cfgm,
		log:    appLog,
		logs:   logSvc,
		sender: sender,
		bus:    bus,
		store:  store,
		clock:  clock,
		sched:  scheduler.New(loop, log.With(logx.String("comp", "scheduler")), bus, scheduler.WithClock(clock)),
		jobs:   map[string]registered{},
	}
	a.debug = debug.New(log.With(logx.String("comp", "debug")), func() any { return a.Status() })

	for _, j := range cfg.Jobs {
		if j.Disabled {
			appLog.Debug("job disabled", logx.String("job", j.Name))
			continue
		}
		if err := a.addJob(j); err != nil {
			a.closeResources()
			return nil, err
		}
	}
	return a, nil
}

// Scheduler exposes the underlying scheduler for diagnostics.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Store returns the run-history store, or nil when history is disabled.
func (a *App) Store() storage.Store { return a.store }

// Status is the payload of the debug server's /debug/status endpoint.
type Status struct {
	Scheduler     scheduler.Snapshot  `json:"scheduler"`
	Supervisor    supervisor.Snapshot `json:"supervisor"`
	EventsDropped uint64              `json:"events_dropped"`
}

func (a *App) Status() Status {
	st := Status{
		Scheduler:     a.sched.Snapshot(),
		EventsDropped: eventbus.Dropped(a.bus),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start launches the background goroutines and the scheduler loop. ctx is the parent
// of every task; canceling it stops the daemon without draining, so callers that
// want a graceful shutdown call Stop instead.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(a.validateReload)

	if a.store != nil {
		events, unsub := a.bus.Subscribe(256, scheduler.EventTaskFinished, scheduler.EventTaskFailed)
		a.sup.Go0("history.record", func(c context.Context) {
			defer unsub()
			a.recordHistory(c, events)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug-level so frequent jobs don't flood the log.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	}, supervisor.WithRestartBackoff(time.Second, time.Minute))

	a.applyDebug(a.sup.Context(), a.cfgm.Get())

	a.sched.Start(a.sup.Context())
	snap := a.sched.Snapshot()
	if len(snap.Jobs) == 0 {
		a.log.Warn("no jobs configured; waiting for a config reload")
	}
	a.log.Info("app started", logx.Int("jobs", len(snap.Jobs)))
	return nil
}

// Stop halts the scheduler, waits for running jobs up to scheduler.drain_timeout,
// then stops background goroutines and closes storage and logging.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.closeResources()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	drain := config.DefaultDrainTimeout
	if cfg := a.cfgm.Get(); cfg != nil {
		drain = cfg.Scheduler.Drain()
	}

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		if err := a.stopStep(ctx, name, max, fn); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("scheduler", time.Second, func(context.Context) error { a.sched.Stop(); return nil })
	step("drain", drain, func(c context.Context) error {
		err := a.sched.Drain(c)
		if err != nil {
			a.log.Warn("jobs still running after drain timeout; canceling", logx.Int("inflight", a.sched.Snapshot().InFlight))
		}
		return err
	})
	step("debug", time.Second, a.debug.Stop)
	// Canceling the supervisor also cancels the context of tasks still running.
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Stop(c) })

	a.log.Info("stopped")
	a.closeResources()
	return errors.Join(errs...)
}

// stopStep runs fn with an upper bound so one component cannot stall the whole stop.
func (a *App) stopStep(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) error {
	start := time.Now()
	stepCtx := ctx
	if max > 0 {
		var cancel context.CancelFunc
		// Respect the caller's deadline; never extend it.
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		took := time.Since(start)
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			return err
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		return nil
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		return stepCtx.Err()
	}
}

// applyDebug reconfigures the debug server. It is optional, so failures are logged
// rather than returned.
func (a *App) applyDebug(ctx context.Context, cfg *config.Config) {
	dc, err := mapDebugConfig(cfg)
	if err == nil {
		err = a.debug.Apply(ctx, dc)
	}
	if err != nil {
		a.log.Warn("debug server not applied", logx.Err(err))
	}
}

func (a *App) closeResources() {
	a.closeOnce.Do(func() {
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.log.Warn("storage close failed", logx.Err(err))
			}
		}
		if a.logs != nil {
			_ = a.logs.Close()
		}
	})
}
