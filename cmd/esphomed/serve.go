package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"esphomed/internal/config"
	"esphomed/internal/daemon"
	"esphomed/internal/logger"
	"esphomed/internal/metrics"
	"esphomed/internal/server"
	"esphomed/internal/store"
	"esphomed/internal/ui"
	"esphomed/internal/updater"
)

const firstUpdateCheckDelay = 30 * time.Second

func newServeCmd(gf *GlobalFlags) *cobra.Command {
	var noBrowser bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(gf.ConfigPath, noBrowser)
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "do not open the dashboard in a browser")
	return cmd
}

func runServe(configPath string, noBrowser bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	lg := logger.Setup(cfg.Log)

	pe := cfg.PythonEnv()
	if err := pe.EnsureVenv(lg); err != nil {
		lg.Warn("python environment bootstrap failed, falling back to system python", "err", err)
	}
	python := pe.PythonPath()
	lg.Info("using python interpreter", "path", python)

	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	if st != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := st.EnsureSchema(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("prepare event store: %w", err)
		}
		defer func() { _ = st.Close() }()
	}

	if cfg.Metrics.Enabled {
		if err := metrics.RegisterDefault(); err != nil {
			lg.Warn("metrics registration failed", "err", err)
		}
	}

	d := daemon.New(daemon.Config{
		Python:    python,
		VenvBin:   pe.VenvBin(),
		ConfigDir: cfg.ConfigDir,
		DataDir:   cfg.DataDir,
		Port:      cfg.Port,
		Health:    cfg.Health,
		Logger:    lg,
	}, daemon.WithRecorder(st))

	upd := &updater.Updater{
		Daemon:    d,
		Source:    updater.NewPyPIClient(),
		Install:   &updater.PipInstaller{Python: python, Logger: lg},
		Installed: pe.InstalledVersion,
		UI:        ui.Logged{Logger: lg},
		Logger:    lg,
		Store:     st,
	}

	apiSrv := server.NewServer(cfg.Server.Listen, cfg.Server.BasePath, d, upd, st)
	lg.Info("control api listening", "addr", cfg.Server.Listen, "base", cfg.Server.BasePath)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() { _ = metricsSrv.ListenAndServe() }()
		lg.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.ConfigDir, 0o755); err != nil {
		lg.Warn("create config dir failed", "dir", cfg.ConfigDir, "err", err)
	}
	if err := d.Start(); err != nil {
		lg.Error("dashboard start failed", "err", err)
	} else {
		go func() {
			if !daemon.WaitReady(ctx, d.Port(), daemon.DefaultReadyTimeout) {
				lg.Warn("dashboard did not become ready", "port", d.Port())
				return
			}
			url := fmt.Sprintf("http://127.0.0.1:%d", d.Port())
			lg.Info("dashboard ready", "url", url)
			if cfg.OpenOnStart && !noBrowser {
				if err := openBrowser(url); err != nil {
					lg.Warn("open browser failed", "err", err)
				}
			}
		}()
	}

	if cfg.CheckUpdates {
		go updateLoop(ctx, upd, cfg.UpdateInterval)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	lg.Info("shutting down", "signal", s.String())

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return d.Stop()
}

// updateLoop runs periodic background update checks. The first check is
// delayed so startup is not slowed by a registry round trip.
func updateLoop(ctx context.Context, upd *updater.Updater, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(firstUpdateCheckDelay):
	}
	upd.CheckAndNotify(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			upd.CheckAndNotify(ctx)
		}
	}
}
