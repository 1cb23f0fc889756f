package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"esphomed/internal/daemon"
	"esphomed/internal/store"
	"esphomed/internal/updater"
)

type fakeDaemon struct {
	running  bool
	startErr error
	restarts int
}

func (f *fakeDaemon) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeDaemon) Stop() error {
	f.running = false
	return nil
}

func (f *fakeDaemon) Restart() error {
	f.restarts++
	f.running = true
	return nil
}

func (f *fakeDaemon) IsRunning() bool { return f.running }

func (f *fakeDaemon) Status() daemon.Status {
	st := daemon.Status{State: "stopped", Port: 6052}
	if f.running {
		st.State = "running"
		st.Running = true
		st.PID = 4321
	}
	return st
}

func (f *fakeDaemon) Port() int { return 6052 }

type fakeSource struct {
	v   string
	err error
}

func (s fakeSource) Latest(context.Context) (string, error) { return s.v, s.err }

type fakeInstaller struct {
	versions []string
	err      error
}

func (i *fakeInstaller) Install(_ context.Context, v string) error {
	i.versions = append(i.versions, v)
	return i.err
}

type silentSink struct{}

func (silentSink) Info(_, _ string)            {}
func (silentSink) Error(_, _ string)           {}
func (silentSink) Notify(_, _ string)          {}
func (silentSink) Confirm(_, _, _ string) bool { return true }

func newTestServer(t *testing.T, dmn *fakeDaemon, src fakeSource, ins *fakeInstaller, st store.Store) *httptest.Server {
	t.Helper()
	upd := &updater.Updater{
		Daemon:    dmn,
		Source:    src,
		Install:   ins,
		Installed: func(context.Context) (string, error) { return "2024.1.0", nil },
		UI:        silentSink{},
	}
	srv := httptest.NewServer(NewRouter(dmn, upd, st, "/api").Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestStatusEndpoint(t *testing.T) {
	dmn := &fakeDaemon{running: true}
	srv := newTestServer(t, dmn, fakeSource{}, &fakeInstaller{}, nil)

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var st daemon.Status
	decodeBody(t, resp, &st)
	if st.State != "running" || st.PID != 4321 {
		t.Fatalf("status = %+v", st)
	}
}

func TestLifecycleEndpoints(t *testing.T) {
	dmn := &fakeDaemon{}
	srv := newTestServer(t, dmn, fakeSource{}, &fakeInstaller{}, nil)

	for _, op := range []string{"start", "restart", "stop"} {
		resp, err := http.Post(srv.URL+"/api/"+op, "application/json", nil)
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s returned %d", op, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}
	if dmn.restarts != 1 {
		t.Fatalf("restarts = %d", dmn.restarts)
	}
	if dmn.running {
		t.Fatal("final stop did not land")
	}
}

func TestStartFailureIs500(t *testing.T) {
	dmn := &fakeDaemon{startErr: errors.New("python missing")}
	srv := newTestServer(t, dmn, fakeSource{}, &fakeInstaller{}, nil)

	resp, err := http.Post(srv.URL+"/api/start", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var e struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &e)
	if e.Error == "" {
		t.Fatal("error envelope missing")
	}
}

func TestUpdateCheckEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeDaemon{}, fakeSource{v: "2024.2.0"}, &fakeInstaller{}, nil)

	resp, err := http.Post(srv.URL+"/api/update/check", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var res updater.CheckResult
	decodeBody(t, resp, &res)
	if !res.Available || res.Latest != "2024.2.0" || res.Installed != "2024.1.0" {
		t.Fatalf("check result = %+v", res)
	}
}

func TestUpdateCheckUpstreamFailure(t *testing.T) {
	srv := newTestServer(t, &fakeDaemon{}, fakeSource{err: errors.New("pypi down")}, &fakeInstaller{}, nil)

	resp, err := http.Post(srv.URL+"/api/update/check", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestUpdateApplyExplicitVersion(t *testing.T) {
	ins := &fakeInstaller{}
	srv := newTestServer(t, &fakeDaemon{running: true}, fakeSource{v: "2024.2.0"}, ins, nil)

	body := bytes.NewBufferString(`{"version":"2024.2.0"}`)
	resp, err := http.Post(srv.URL+"/api/update/apply", "application/json", body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var res struct {
		Updated bool   `json:"updated"`
		Version string `json:"version"`
	}
	decodeBody(t, resp, &res)
	if !res.Updated || res.Version != "2024.2.0" {
		t.Fatalf("apply response = %+v", res)
	}
	if len(ins.versions) != 1 || ins.versions[0] != "2024.2.0" {
		t.Fatalf("installed %v", ins.versions)
	}
}

func TestUpdateApplyRestartsRunningDaemon(t *testing.T) {
	dmn := &fakeDaemon{running: true}
	srv := newTestServer(t, dmn, fakeSource{v: "2024.2.0"}, &fakeInstaller{}, nil)

	resp, err := http.Post(srv.URL+"/api/update/apply", "application/json",
		bytes.NewBufferString(`{"version":"2024.2.0"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	// the updater must have observed the running state and cycled the daemon
	if !dmn.IsRunning() {
		t.Fatal("daemon not running again after apply")
	}
}

func TestUpdateApplyUpToDate(t *testing.T) {
	ins := &fakeInstaller{}
	srv := newTestServer(t, &fakeDaemon{}, fakeSource{v: "2024.1.0"}, ins, nil)

	resp, err := http.Post(srv.URL+"/api/update/apply", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	var res struct {
		Updated bool   `json:"updated"`
		Outcome string `json:"outcome"`
	}
	decodeBody(t, resp, &res)
	if res.Updated || res.Outcome != "up_to_date" {
		t.Fatalf("apply response = %+v", res)
	}
	if len(ins.versions) != 0 {
		t.Fatalf("nothing should be installed, got %v", ins.versions)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := st.RecordEvent(context.Background(), store.Event{Kind: store.EventStart, PID: 7}); err != nil {
		t.Fatalf("record: %v", err)
	}

	srv := newTestServer(t, &fakeDaemon{}, fakeSource{}, &fakeInstaller{}, st)

	resp, err := http.Get(srv.URL + "/api/history/events?limit=10")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var events []store.Event
	decodeBody(t, resp, &events)
	if len(events) != 1 || events[0].PID != 7 {
		t.Fatalf("events = %+v", events)
	}

	resp, err = http.Get(srv.URL + "/api/history/updates")
	if err != nil {
		t.Fatalf("get updates: %v", err)
	}
	var recs []store.UpdateRecord
	decodeBody(t, resp, &recs)
	if len(recs) != 0 {
		t.Fatalf("updates = %+v", recs)
	}
}

func TestHistoryDisabledWithoutStore(t *testing.T) {
	srv := newTestServer(t, &fakeDaemon{}, fakeSource{}, &fakeInstaller{}, nil)

	resp, err := http.Get(srv.URL + "/api/history/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"/":     "",
		"api":   "/api",
		"/api":  "/api",
		"/api/": "/api",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Errorf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}
