package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"cadence/internal/app"

	_ "time/tzdata"
)

func main() {
	var (
		cfgPath string
		list    int
		history int
		job     string
	)
	flag.StringVar(&cfgPath, "config", "./cadence.yaml", "path to config (yaml or json)")
	flag.IntVar(&list, "list", 0, "print the next N runs of every job and exit")
	flag.IntVar(&history, "history", 0, "print the N most recent runs from storage and exit")
	flag.StringVar(&job, "job", "", "restrict -history to one job")
	flag.Parse()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if list > 0 || history > 0 {
		code := 0
		if list > 0 {
			printUpcoming(a, list)
		}
		if history > 0 {
			if err := printHistory(a, job, history); err != nil {
				fmt.Fprintln(os.Stderr, "history:", err)
				code = 1
			}
		}
		_ = a.Stop(context.Background(), app.StopUnknown)
		os.Exit(code)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Stop drains running jobs before canceling them, so the run context is not tied
	// to the signal.
	if err := a.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}
	notify(daemon.SdNotifyReady)

	reason := app.StopFatalError
	select {
	case sig := <-sigs:
		reason = app.StopReasonFromSignal(sig)
	case <-a.Done():
	}
	notify(daemon.SdNotifyStopping)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	stopErr := a.Stop(ctx, reason)
	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if stopErr != nil {
		fmt.Fprintln(os.Stderr, "stop:", stopErr)
		os.Exit(1)
	}
}

// notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		fmt.Fprintln(os.Stderr, "sd_notify:", err)
	}
}

func printUpcoming(a *app.App, n int) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSCHEDULE\tNEXT")
	for _, u := range a.Upcoming(n) {
		for i, t := range u.Runs {
			if i == 0 {
				fmt.Fprintf(w, "%s\t%s\t%s\n", u.Job, u.Schedule, t.Format(time.RFC3339))
				continue
			}
			fmt.Fprintf(w, "\t\t%s\n", t.Format(time.RFC3339))
		}
	}
	_ = w.Flush()
}

func printHistory(a *app.App, job string, n int) error {
	store := a.Store()
	if store == nil {
		return fmt.Errorf("storage is disabled in the config")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runs, err := store.RecentRuns(ctx, job, n)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tJOB\tDURATION\tRESULT")
	for _, r := range runs {
		result := "ok"
		if !r.OK() {
			result = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Started.Format(time.RFC3339), r.Job, r.Duration.Round(time.Millisecond), result)
	}
	return w.Flush()
}
