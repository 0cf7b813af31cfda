package app

import (
	"context"
	"time"

	"cadence/internal/storage"
	"cadence/pkg/eventbus"
	"cadence/pkg/logx"
	"cadence/pkg/scheduler"
)

const historyWriteTimeout = 5 * time.Second

// recordHistory writes finished runs to the store until ctx is done, then flushes
// events that are already queued.
func (a *App) recordHistory(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					a.appendRun(e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			a.appendRun(e)
		}
	}
}

func (a *App) appendRun(e eventbus.Event) {
	ev, ok := e.Data.(scheduler.TaskEvent)
	if !ok {
		return
	}
	// Detached from the app context so the final flush still reaches the store.
	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	err := a.store.AppendRun(ctx, storage.RunRecord{
		Job:       ev.Job,
		Scheduled: ev.Scheduled,
		Started:   ev.Started,
		Duration:  ev.Duration,
		Error:     ev.Error,
	})
	if err != nil {
		a.log.Warn("run history write failed", logx.String("job", ev.Job), logx.Err(err))
	}
}
