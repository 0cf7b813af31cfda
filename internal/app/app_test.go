package app

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cadence/internal/config"
	"cadence/internal/storage"
	"cadence/internal/task/runner"
	"cadence/pkg/scheduler"

	_ "time/tzdata"
)

// Monday.
var mondayNoon = time.Date(2025, time.November, 10, 12, 0, 0, 0, time.UTC)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cadence.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func stopApp(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Stop(ctx, StopSIGTERM); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
logging: {level: error}
jobs:
  - name: broken
    schedule: "at 25:00"
    command: ["true"]
`)
	if _, err := New(path); err == nil || !strings.Contains(err.Error(), "jobs[0]") {
		t.Fatalf("err = %v", err)
	}
}

func TestUpcomingInConfigOrder(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
logging: {level: error}
scheduler: {timezone: UTC}
jobs:
  - name: heartbeat
    schedule: every 10s
    command: ["true"]
  - name: skipped
    schedule: every 1s
    command: ["true"]
    disabled: true
  - name: report
    schedule: "at 14:00 on wed"
    command: ["true"]
`)
	a, err := New(path, WithClock(scheduler.NewFakeClock(mondayNoon)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer stopApp(t, a)

	got := a.Upcoming(2)
	if len(got) != 2 || got[0].Job != "heartbeat" || got[1].Job != "report" {
		t.Fatalf("Upcoming = %+v", got)
	}
	want := map[string][]time.Time{
		"heartbeat": {mondayNoon.Add(10 * time.Second), mondayNoon.Add(20 * time.Second)},
		"report": {
			time.Date(2025, time.November, 12, 14, 0, 0, 0, time.UTC),
			time.Date(2025, time.November, 19, 14, 0, 0, 0, time.UTC),
		},
	}
	for _, u := range got {
		if len(u.Runs) != 2 || !u.Runs[0].Equal(want[u.Job][0]) || !u.Runs[1].Equal(want[u.Job][1]) {
			t.Fatalf("%s runs = %v, want %v", u.Job, u.Runs, want[u.Job])
		}
	}
}

func TestTimezoneAppliesToTimeOfDay(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
logging: {level: error}
scheduler: {timezone: Asia/Tokyo}
jobs:
  - name: morning
    schedule: "at 09:00"
    command: ["true"]
`)
	// 12:00 UTC is 21:00 in Tokyo, so the next 09:00 is tomorrow 00:00 UTC.
	a, err := New(path, WithClock(scheduler.NewFakeClock(mondayNoon)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer stopApp(t, a)

	runs := a.Upcoming(1)[0].Runs
	want := time.Date(2025, time.November, 11, 0, 0, 0, 0, time.UTC)
	if len(runs) != 1 || !runs[0].Equal(want) {
		t.Fatalf("runs = %v, want %v", runs, want)
	}
}

func TestRunsAreRecordedToHistory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeConfig(t, `
logging: {level: error}
scheduler: {timezone: UTC}
storage:
  driver: file
  path: `+filepath.Join(dir, "history")+`
jobs:
  - name: ok
    schedule: every 1s
    command: ["/bin/sh", "-c", "exit 0"]
    overlap: allow
  - name: fail
    schedule: every 1s
    command: ["/bin/sh", "-c", "exit 2"]
    overlap: allow
`)
	clock := scheduler.NewFakeClock(mondayNoon)
	a, err := New(path, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	clock.Advance(2 * time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Scheduler().Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	var runs []storage.RunRecord
	for {
		runs, err = a.Store().RecentRuns(ctx, "", 0)
		if err != nil {
			t.Fatalf("RecentRuns: %v", err)
		}
		if len(runs) == 4 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("history has %d records, want 4", len(runs))
		case <-time.After(20 * time.Millisecond):
		}
	}
	for _, r := range runs {
		switch r.Job {
		case "ok":
			if !r.OK() {
				t.Fatalf("ok run recorded error %q", r.Error)
			}
		case "fail":
			if r.OK() || !strings.Contains(r.Error, "exit status 2") {
				t.Fatalf("fail run error = %q", r.Error)
			}
		default:
			t.Fatalf("unexpected job %q", r.Job)
		}
		if r.Scheduled.Before(mondayNoon) || r.Scheduled.After(mondayNoon.Add(2*time.Second)) {
			t.Fatalf("scheduled = %v", r.Scheduled)
		}
	}
}

func TestReloadAddsJobAndRestartsIdleLoop(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
logging: {level: error}
scheduler: {timezone: UTC}
jobs: []
`)
	clock := scheduler.NewFakeClock(mondayNoon)
	a, err := New(path, WithClock(clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)
	if a.Scheduler().Running() {
		t.Fatal("loop should stop when there are no jobs")
	}

	oldCfg := a.cfgm.Get()
	newCfg := *oldCfg
	newCfg.Scheduler.MaxSleep = "10s"
	newCfg.Jobs = []config.JobConfig{{Name: "late", Schedule: "every 5s", Command: []string{"true"}}}
	a.applyConfig(a.sup.Context(), oldCfg, &newCfg)

	if !a.Scheduler().Running() {
		t.Fatal("adding a job should restart the loop")
	}
	snap := a.Scheduler().Snapshot()
	if snap.MaxSleep != 10*time.Second {
		t.Fatalf("MaxSleep = %v, want 10s", snap.MaxSleep)
	}
	if len(snap.Jobs) != 1 || snap.Jobs[0].Name != "late" || !snap.Jobs[0].Next.Equal(mondayNoon.Add(5*time.Second)) {
		t.Fatalf("jobs = %+v", snap.Jobs)
	}

	// Re-applying the same job name is rejected rather than registered twice.
	if err := a.addJob(newCfg.Jobs[0]); err == nil {
		t.Fatal("duplicate job accepted")
	}
}

func TestDebugStatusEndpoint(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, `
logging: {level: error}
scheduler: {timezone: UTC}
debug:
  enabled: true
  addr: 127.0.0.1:0
  token: t0k
jobs:
  - name: heartbeat
    schedule: every 10s
    command: ["true"]
`)
	a, err := New(path, WithClock(scheduler.NewFakeClock(mondayNoon)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopApp(t, a)

	addr := a.debug.Addr()
	if addr == "" {
		t.Fatal("debug server not started")
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + addr + "/debug/status?token=t0k")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.Scheduler.Running || len(st.Scheduler.Jobs) != 1 || st.Scheduler.Jobs[0].Name != "heartbeat" {
		t.Fatalf("status = %+v", st.Scheduler)
	}
	if len(st.Supervisor.Goroutines) == 0 {
		t.Fatal("supervisor snapshot missing")
	}
}

func TestValidateReloadNeedsSenderForChatSink(t *testing.T) {
	t.Parallel()
	a := &App{}
	cfg := &config.Config{}
	cfg.Logging.Telegram.Enabled = true
	if err := a.validateReload(context.Background(), cfg); err == nil {
		t.Fatal("chat sink without a sender should be rejected")
	}
	cfg.Logging.Telegram.Enabled = false
	if err := a.validateReload(context.Background(), cfg); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		in      *config.StorageConfig
		enabled bool
		wantErr string
	}{
		{name: "nil", in: nil},
		{name: "none", in: &config.StorageConfig{Driver: "none"}},
		{name: "file", in: &config.StorageConfig{Driver: "file", Path: "./h"}, enabled: true},
		{name: "sqlite", in: &config.StorageConfig{Driver: "SQLite", Path: "./h.db", BusyTimeout: "2s"}, enabled: true},
		{name: "missing path", in: &config.StorageConfig{Driver: "file"}, wantErr: "storage.path"},
		{name: "bad busy", in: &config.StorageConfig{Driver: "sqlite", Path: "x", BusyTimeout: "soon"}, wantErr: "busy_timeout"},
		{name: "unknown", in: &config.StorageConfig{Driver: "redis", Path: "x"}, wantErr: "unknown storage.driver"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc, enabled, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil || enabled != tc.enabled {
				t.Fatalf("enabled = %v, err = %v", enabled, err)
			}
			if tc.name == "sqlite" && (sc.Driver != "sqlite" || sc.BusyTimeout != 2*time.Second) {
				t.Fatalf("sc = %+v", sc)
			}
		})
	}
}

func TestMapCommand(t *testing.T) {
	t.Parallel()
	cmd, err := mapCommand(config.JobConfig{
		Command:   []string{"/usr/bin/backup", "--quiet"},
		Dir:       " /srv ",
		Env:       []string{"A=1"},
		Timeout:   "10m",
		Retries:   2,
		RetryBase: "3s",
		Overlap:   "allow",
	})
	if err != nil {
		t.Fatalf("mapCommand: %v", err)
	}
	if cmd.Name != "/usr/bin/backup" || len(cmd.Args) != 1 || cmd.Args[0] != "--quiet" || cmd.Dir != "/srv" {
		t.Fatalf("cmd = %+v", cmd)
	}
	if cmd.Timeout != 10*time.Minute || cmd.Retries != 2 || cmd.RetryBase != 3*time.Second || cmd.Overlap != runner.OverlapAllow {
		t.Fatalf("cmd = %+v", cmd)
	}
	if _, err := mapCommand(config.JobConfig{}); err != runner.ErrNoCommand {
		t.Fatalf("err = %v", err)
	}
}
