package debug

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"runtime"
	"testing"
	"time"

	"cadence/pkg/logx"
)

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestServerLifecycleAndStatus(t *testing.T) {
	prevMutex := runtime.SetMutexProfileFraction(-1)
	t.Cleanup(func() {
		runtime.SetMutexProfileFraction(prevMutex)
		runtime.SetBlockProfileRate(0)
	})

	s := New(logx.Nop(), func() any { return map[string]int{"jobs": 3} })
	ctx := context.Background()
	t.Cleanup(func() { _ = s.Stop(ctx) })

	cfg := Config{Enabled: true, Addr: "127.0.0.1:0", MutexProfileFraction: 7, BlockProfileRate: -1}
	if err := s.Apply(ctx, cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	addr := s.Addr()
	if addr == "" {
		t.Fatal("server did not bind")
	}
	if got := runtime.SetMutexProfileFraction(-1); got != 7 {
		t.Fatalf("mutex profile fraction = %d, want 7", got)
	}

	code, body := get(t, "http://"+addr+"/debug/status", "")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	var st map[string]int
	if err := json.Unmarshal([]byte(body), &st); err != nil || st["jobs"] != 3 {
		t.Fatalf("status body = %q (%v)", body, err)
	}
	if code, _ := get(t, "http://"+addr+"/debug/pprof/", ""); code != http.StatusOK {
		t.Fatalf("pprof index code = %d", code)
	}

	// Same config keeps the listener.
	if err := s.Apply(ctx, cfg); err != nil || s.Addr() != addr {
		t.Fatalf("re-apply restarted the server: %v", err)
	}

	if err := s.Apply(ctx, Config{Enabled: false}); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("server still bound after disable")
	}
}

func TestTokenRequired(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), nil)
	ctx := context.Background()
	t.Cleanup(func() { _ = s.Stop(ctx) })
	if err := s.Apply(ctx, Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret", MutexProfileFraction: -1, BlockProfileRate: -1}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	base := "http://" + s.Addr()

	if code, _ := get(t, base+"/debug/status", ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: code = %d", code)
	}
	if code, _ := get(t, base+"/debug/status", "wrong"); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: code = %d", code)
	}
	if code, _ := get(t, base+"/debug/status", "s3cret"); code != http.StatusOK {
		t.Fatalf("bearer token: code = %d", code)
	}
	if code, _ := get(t, base+"/debug/status?token=s3cret", ""); code != http.StatusOK {
		t.Fatalf("query token: code = %d", code)
	}
	if code, body := get(t, base+"/healthz", ""); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz = %d %q", code, body)
	}
}

func TestCheckExposure(t *testing.T) {
	t.Parallel()
	cases := []struct {
		cfg  Config
		ok   bool
		name string
	}{
		{name: "default", cfg: Config{}, ok: true},
		{name: "localhost", cfg: Config{Addr: "localhost:6060"}, ok: true},
		{name: "ipv6 loopback", cfg: Config{Addr: "[::1]:6060"}, ok: true},
		{name: "all interfaces", cfg: Config{Addr: ":6060"}},
		{name: "public", cfg: Config{Addr: "10.0.0.5:6060"}},
		{name: "public with token", cfg: Config{Addr: "10.0.0.5:6060", Token: "x"}, ok: true},
		{name: "public insecure", cfg: Config{Addr: "0.0.0.0:6060", AllowInsecure: true}, ok: true},
		{name: "no port", cfg: Config{Addr: "127.0.0.1"}},
	}
	for _, tc := range cases {
		if err := CheckExposure(tc.cfg); (err == nil) != tc.ok {
			t.Fatalf("%s: err = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}
