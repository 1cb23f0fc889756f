package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"esphomed/internal/store"
)

const gracefulStub = `#!/bin/sh
echo "dashboard starting"
trap 'exit 0' TERM INT
while :; do sleep 0.1; done
`

const stubbornStub = `#!/bin/sh
echo "ignoring signals"
trap '' TERM
while :; do sleep 0.1; done
`

const shortLivedStub = `#!/bin/sh
echo "bye"
exit 3
`

func writeStub(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	p := filepath.Join(t.TempDir(), "python")
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return p
}

func testConfig(t *testing.T, python string) Config {
	t.Helper()
	return Config{
		Python:      python,
		ConfigDir:   t.TempDir(),
		DataDir:     t.TempDir(),
		Port:        45678,
		StopGrace:   2 * time.Second,
		SettleDelay: 50 * time.Millisecond,
		Health:      HealthConfig{Disabled: true},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestStartAndStop(t *testing.T) {
	d := New(testConfig(t, writeStub(t, gracefulStub)))

	if d.State() != StateStopped {
		t.Fatalf("initial state = %v", d.State())
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !d.IsRunning() || d.State() != StateRunning {
		t.Fatalf("not running after start: %v", d.State())
	}

	st := d.Status()
	if st.PID <= 0 {
		t.Fatalf("status pid = %d", st.PID)
	}
	// pid file reflects the child
	b, err := os.ReadFile(d.pidPath())
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if got, _ := strconv.Atoi(strings.TrimSpace(string(b))); got != st.PID {
		t.Fatalf("pid file %d != status pid %d", got, st.PID)
	}
	// child output lands in the per-run log
	waitFor(t, 3*time.Second, func() bool {
		b, err := os.ReadFile(st.LogPath)
		return err == nil && len(b) > 0
	})

	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if d.IsRunning() || d.State() != StateStopped {
		t.Fatalf("still running after stop: %v", d.State())
	}
	if _, err := os.Stat(d.pidPath()); !os.IsNotExist(err) {
		t.Fatal("pid file not removed on stop")
	}
}

func TestStartTwiceKeepsOneChild(t *testing.T) {
	d := New(testConfig(t, writeStub(t, gracefulStub)))
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = d.Stop() }()

	first := d.Status().PID
	if err := d.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := d.Status().PID; got != first {
		t.Fatalf("second start replaced the child: %d -> %d", first, got)
	}
}

func TestStopWithoutStart(t *testing.T) {
	d := New(testConfig(t, "does-not-matter"))
	if err := d.Stop(); err != nil {
		t.Fatalf("stop on stopped daemon: %v", err)
	}
	if d.State() != StateStopped {
		t.Fatalf("state = %v", d.State())
	}
}

func TestMissingExecutable(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "nope", "python"))
	d := New(cfg)
	err := d.Start()
	if !errors.Is(err, ErrExecutableNotFound) {
		t.Fatalf("err = %v, want ErrExecutableNotFound", err)
	}
	if d.IsRunning() || d.State() != StateStopped {
		t.Fatal("failed start must leave the daemon stopped")
	}
}

func TestForceKillAfterGrace(t *testing.T) {
	cfg := testConfig(t, writeStub(t, stubbornStub))
	cfg.StopGrace = 300 * time.Millisecond
	d := New(cfg)
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	begin := time.Now()
	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 3*time.Second {
		t.Fatalf("stop took %v, escalation too slow", elapsed)
	}
	if d.IsRunning() || d.State() != StateStopped {
		t.Fatalf("daemon not stopped after kill: %v", d.State())
	}
}

func TestRestartSpawnsNewProcess(t *testing.T) {
	d := New(testConfig(t, writeStub(t, gracefulStub)))
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = d.Stop() }()

	first := d.Status().PID
	if err := d.Restart(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if got := d.Status().PID; got == first || got <= 0 {
		t.Fatalf("restart pid %d (was %d)", got, first)
	}
}

func TestStateCallbackSequence(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	cfg := testConfig(t, writeStub(t, gracefulStub))
	d := New(cfg, WithStateCallback(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}))

	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateStarting, StateRunning, StateStopping, StateStopped}
	if len(seen) != len(want) {
		t.Fatalf("callback sequence %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("callback sequence %v, want %v", seen, want)
		}
	}
}

func TestUnexpectedExitKeepsRunningFlag(t *testing.T) {
	d := New(testConfig(t, writeStub(t, shortLivedStub)))
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = d.Stop() }()

	waitFor(t, 3*time.Second, func() bool { return d.Status().LastExit != "" })
	// no transition happens without an explicit stop
	if !d.IsRunning() || d.State() != StateRunning {
		t.Fatalf("state changed without a transition: %v", d.State())
	}
	if !strings.Contains(d.Status().LastExit, "3") {
		t.Fatalf("last exit = %q", d.Status().LastExit)
	}
}

func TestStalePIDFileReplaced(t *testing.T) {
	cfg := testConfig(t, writeStub(t, gracefulStub))
	d := New(cfg)
	// leftover from a crashed run, pid long gone
	if err := os.WriteFile(d.pidPath(), []byte("999999999"), 0o644); err != nil {
		t.Fatalf("seed pid file: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = d.Stop() }()

	b, err := os.ReadFile(d.pidPath())
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if got, _ := strconv.Atoi(strings.TrimSpace(string(b))); got != d.Status().PID {
		t.Fatalf("pid file still stale: %q", b)
	}
}

func TestRecorderTiesRunEvents(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}

	d := New(testConfig(t, writeStub(t, gracefulStub)), WithRecorder(st))
	if err := d.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := d.Status().PID
	if err := d.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	events, err := st.RecentEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want start+stop", len(events))
	}
	stop, start := events[0], events[1]
	if start.Kind != store.EventStart || stop.Kind != store.EventStop {
		t.Fatalf("kinds: %v then %v", start.Kind, stop.Kind)
	}
	if start.RunKey == "" || start.RunKey != stop.RunKey {
		t.Fatalf("run keys do not tie the run: %q vs %q", start.RunKey, stop.RunKey)
	}
	if start.PID != pid || stop.PID != pid {
		t.Fatalf("pids: %d/%d, want %d", start.PID, stop.PID, pid)
	}
}

func TestWaitReadyAgainstLiveServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if !waitReadyURL(context.Background(), srv.URL, time.Second, 20*time.Millisecond) {
		t.Fatal("live server not detected as ready")
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listens anymore

	begin := time.Now()
	if waitReadyURL(context.Background(), srv.URL, 300*time.Millisecond, 50*time.Millisecond) {
		t.Fatal("dead server reported ready")
	}
	if time.Since(begin) > 2*time.Second {
		t.Fatal("timeout not honored")
	}
}

func TestWaitReadyCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if waitReadyURL(ctx, srv.URL, 5*time.Second, 50*time.Millisecond) {
		t.Fatal("cancelled wait reported ready")
	}
}

func TestProbeTreatsErrorStatusAsUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &http.Client{Timeout: time.Second}
	ok, err := probe(context.Background(), client, srv.URL)
	if err != nil {
		t.Fatalf("probe error: %v", err)
	}
	if ok {
		t.Fatal("5xx must not count as healthy")
	}
}
