package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"esphomed/internal/env"
	"esphomed/internal/metrics"
	"esphomed/internal/store"
)

const (
	// DefaultPort is the dashboard listen port.
	DefaultPort = 6052

	defaultStopGrace   = 5 * time.Second
	defaultSettleDelay = 1 * time.Second

	pidFileName = "dashboard.pid"
	logFileName = "dashboard.log"
)

// ErrExecutableNotFound signals that the configured Python interpreter
// does not exist or is not on PATH. No process is spawned in that case.
var ErrExecutableNotFound = errors.New("python executable not found")

// Config describes how to launch and supervise the dashboard child process.
type Config struct {
	Python    string // interpreter path or name resolved via PATH
	VenvBin   string // virtualenv bin dir, prepended to the child's PATH
	ConfigDir string // ESPHome configuration directory, also the working dir
	DataDir   string // application data dir; holds logs/ and the pid file
	Port      int    // dashboard listen port, DefaultPort when zero
	ExtraEnv  []string

	StopGrace   time.Duration // wait after SIGTERM before SIGKILL
	SettleDelay time.Duration // pause between stop and start on restart
	Health      HealthConfig

	Logger *slog.Logger
}

// Daemon supervises a single dashboard child process. All lifecycle
// transitions are serialized by mu; IsRunning and State read atomics so
// status queries never block behind a slow stop.
type Daemon struct {
	cfg Config
	log *slog.Logger

	mu       sync.Mutex // serializes Start/Stop/Restart
	cmd      *exec.Cmd
	logFile  *os.File
	waitDone chan struct{} // closed by the reaper when the child is waited
	cancelHB context.CancelFunc

	running atomic.Bool
	state   atomic.Int32

	snapMu    sync.Mutex // guards the fields below for Status
	pid       int
	startedAt time.Time
	lastExit  string
	runKey    string // ties this run's start and stop events together

	onState  func(State)
	recorder store.Store
}

// Option customizes a Daemon at construction time.
type Option func(*Daemon)

// WithStateCallback registers a listener invoked on every state change.
// The callback runs on the transitioning goroutine and must not call back
// into the Daemon.
func WithStateCallback(fn func(State)) Option {
	return func(d *Daemon) { d.onState = fn }
}

// WithRecorder persists start/stop events to the given store.
func WithRecorder(s store.Store) Option {
	return func(d *Daemon) { d.recorder = s }
}

func New(cfg Config, opts ...Option) *Daemon {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Daemon{cfg: cfg, log: cfg.Logger}
	for _, o := range opts {
		o(d)
	}
	return d
}

// IsRunning reports whether a child is currently supervised. Lock-free.
func (d *Daemon) IsRunning() bool { return d.running.Load() }

// State returns the current lifecycle state. Lock-free.
func (d *Daemon) State() State { return State(d.state.Load()) }

// Status returns a snapshot for status queries and the control API.
func (d *Daemon) Status() Status {
	d.snapMu.Lock()
	defer d.snapMu.Unlock()
	st := Status{
		State:    d.State().String(),
		Running:  d.running.Load(),
		Port:     d.cfg.Port,
		LastExit: d.lastExit,
		LogPath:  d.logPath(),
	}
	if st.Running {
		st.PID = d.pid
		st.StartedAt = d.startedAt
	}
	return st
}

// Port returns the configured dashboard port.
func (d *Daemon) Port() int { return d.cfg.Port }

// Start spawns the dashboard if it is not already running. Calling Start
// on a running daemon is a no-op; at most one child exists at a time.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startLocked()
}

func (d *Daemon) startLocked() error {
	if d.running.Load() {
		d.log.Debug("dashboard already running", "pid", d.pid)
		return nil
	}
	d.setState(StateStarting)

	python, err := exec.LookPath(d.cfg.Python)
	if err != nil {
		d.setState(StateStopped)
		return fmt.Errorf("%w: %s", ErrExecutableNotFound, d.cfg.Python)
	}

	d.reapStalePID()

	logPath := d.logPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		d.setState(StateStopped)
		return fmt.Errorf("create log dir: %w", err)
	}
	// truncate on every start so the file holds the current run only
	f, err := os.Create(logPath)
	if err != nil {
		d.setState(StateStopped)
		return fmt.Errorf("create dashboard log: %w", err)
	}

	cmd := exec.Command(python, "-m", "esphome", "dashboard", d.cfg.ConfigDir,
		"--address", "127.0.0.1", "--port", strconv.Itoa(d.cfg.Port))
	cmd.Dir = d.cfg.ConfigDir
	cmd.Stdout = f
	cmd.Stderr = f
	cmd.SysProcAttr = sysProcAttr()

	e := env.New()
	e.Set("ESPHOME_DASHBOARD", "1")
	if d.cfg.VenvBin != "" {
		e.PrependPath(d.cfg.VenvBin)
	}
	cmd.Env = e.Environ(d.cfg.ExtraEnv)

	if err := cmd.Start(); err != nil {
		_ = f.Close()
		d.setState(StateStopped)
		return fmt.Errorf("spawn dashboard: %w", err)
	}

	d.cmd = cmd
	d.logFile = f
	d.waitDone = make(chan struct{})
	d.snapMu.Lock()
	d.pid = cmd.Process.Pid
	d.startedAt = time.Now()
	d.lastExit = ""
	d.runKey = store.UniqueKey(d.pid, d.startedAt)
	runKey := d.runKey
	d.snapMu.Unlock()
	d.writePIDFile(cmd.Process.Pid)

	d.running.Store(true)
	d.setState(StateRunning)
	metrics.IncStart()
	d.record(store.EventStart, cmd.Process.Pid, runKey, "")
	d.log.Info("dashboard started", "pid", cmd.Process.Pid, "port", d.cfg.Port, "log", logPath)

	go d.reap(cmd, d.waitDone)

	hbCtx, cancel := context.WithCancel(context.Background())
	d.cancelHB = cancel
	if !d.cfg.Health.Disabled {
		go d.monitor(hbCtx)
	}
	return nil
}

// reap waits for the child and closes done. It never takes d.mu; Stop
// blocks on done while holding the lock.
func (d *Daemon) reap(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	exit := "exit status 0"
	if err != nil {
		exit = err.Error()
	}
	d.snapMu.Lock()
	d.lastExit = exit
	d.snapMu.Unlock()
	close(done)

	if d.running.Load() {
		// The child died without Stop being called. State stays Running
		// until an explicit transition; the health monitor surfaces it.
		d.log.Warn("dashboard exited unexpectedly", "pid", cmd.Process.Pid, "exit", exit)
	} else {
		d.log.Debug("dashboard reaped", "pid", cmd.Process.Pid, "exit", exit)
	}
}

// Stop terminates the child gracefully, escalating to a kill of the whole
// process group after the grace period. Stopping a stopped daemon is a
// no-op. Stop always returns nil so restart flows cannot wedge.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *Daemon) stopLocked() error {
	if !d.running.Load() {
		d.log.Debug("dashboard not running, nothing to stop")
		return nil
	}
	d.setState(StateStopping)
	d.running.Store(false)
	if d.cancelHB != nil {
		d.cancelHB()
		d.cancelHB = nil
	}

	cmd, done := d.cmd, d.waitDone
	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		if err := terminateTree(pid); err != nil {
			d.log.Warn("terminate signal failed", "pid", pid, "err", err)
		}
		select {
		case <-done:
			d.log.Info("dashboard stopped", "pid", pid)
		case <-time.After(d.stopGrace()):
			d.log.Warn("graceful stop timed out, killing process group", "pid", pid)
			_ = killTree(pid)
			_ = cmd.Process.Kill()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				d.log.Error("dashboard did not exit after kill", "pid", pid)
			}
		}
	}

	if d.logFile != nil {
		_ = d.logFile.Close()
		d.logFile = nil
	}
	d.removePIDFile()

	d.snapMu.Lock()
	pid, runKey, exit := d.pid, d.runKey, d.lastExit
	d.pid = 0
	d.runKey = ""
	d.snapMu.Unlock()

	d.cmd = nil
	d.waitDone = nil
	d.setState(StateStopped)
	metrics.IncStop()
	d.record(store.EventStop, pid, runKey, exit)
	return nil
}

// Restart stops the child, waits for the settle delay so the listen port
// is released, and starts a fresh one.
func (d *Daemon) Restart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.stopLocked(); err != nil {
		return err
	}
	time.Sleep(d.settleDelay())
	metrics.IncRestart()
	return d.startLocked()
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
	metrics.SetState(s.String(), StateNames)
	if d.onState != nil {
		d.onState(s)
	}
}

func (d *Daemon) record(kind store.EventKind, pid int, runKey, detail string) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.recorder.RecordEvent(ctx, store.Event{Kind: kind, PID: pid, RunKey: runKey, Detail: detail}); err != nil {
		d.log.Warn("record daemon event failed", "kind", kind, "err", err)
	}
}

func (d *Daemon) stopGrace() time.Duration {
	if d.cfg.StopGrace > 0 {
		return d.cfg.StopGrace
	}
	return defaultStopGrace
}

func (d *Daemon) settleDelay() time.Duration {
	if d.cfg.SettleDelay > 0 {
		return d.cfg.SettleDelay
	}
	return defaultSettleDelay
}

func (d *Daemon) logPath() string {
	return filepath.Join(d.cfg.DataDir, "logs", logFileName)
}

func (d *Daemon) pidPath() string {
	return filepath.Join(d.cfg.DataDir, pidFileName)
}

func (d *Daemon) writePIDFile(pid int) {
	if err := os.WriteFile(d.pidPath(), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		d.log.Warn("write pid file failed", "err", err)
	}
}

func (d *Daemon) removePIDFile() {
	if err := os.Remove(d.pidPath()); err != nil && !os.IsNotExist(err) {
		d.log.Warn("remove pid file failed", "err", err)
	}
}

// reapStalePID kills a leftover dashboard from a previous run whose pid
// file survived a crash. Best effort; the file is removed either way.
func (d *Daemon) reapStalePID() {
	b, err := os.ReadFile(d.pidPath())
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		_ = os.Remove(d.pidPath())
		return
	}
	if processAlive(pid) {
		d.log.Warn("killing stale dashboard from previous run", "pid", pid)
		_ = terminateTree(pid)
		time.Sleep(200 * time.Millisecond)
		_ = killTree(pid)
	}
	_ = os.Remove(d.pidPath())
}
