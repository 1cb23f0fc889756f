package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"esphomed/internal/metrics"
	"esphomed/internal/store"
	"esphomed/internal/ui"
)

// Controller is the daemon surface the updater needs. The dashboard must
// be stopped around an install so pip does not swap files under a live
// process.
type Controller interface {
	Start() error
	Stop() error
	IsRunning() bool
}

// VersionSource resolves the newest published version.
type VersionSource interface {
	Latest(ctx context.Context) (string, error)
}

// Installer installs a specific version into the environment.
type Installer interface {
	Install(ctx context.Context, version string) error
}

// PartialUpdateError reports that the new version was installed but the
// dashboard could not be restarted afterwards.
type PartialUpdateError struct {
	Version    string
	RestartErr error
}

func (e *PartialUpdateError) Error() string {
	return fmt.Sprintf("version %s installed but dashboard restart failed: %v", e.Version, e.RestartErr)
}

func (e *PartialUpdateError) Unwrap() error { return e.RestartErr }

// Updater orchestrates check-and-install flows. All fields except Store
// are required; a nil Store disables attempt recording.
type Updater struct {
	Daemon    Controller
	Source    VersionSource
	Install   Installer
	Installed func(ctx context.Context) (string, error)
	UI        ui.Sink
	Logger    *slog.Logger
	Store     store.Store
}

func (u *Updater) log() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}

// CheckResult is the outcome of a version check.
type CheckResult struct {
	Installed string `json:"installed"`
	Latest    string `json:"latest"`
	Available bool   `json:"update_available"`
}

// Check resolves the installed and latest versions and whether latest is
// an upgrade. It has no UI side effects.
func (u *Updater) Check(ctx context.Context) (CheckResult, error) {
	installed, err := u.Installed(ctx)
	if err != nil {
		return CheckResult{}, fmt.Errorf("read installed version: %w", err)
	}
	latest, err := u.Source.Latest(ctx)
	if err != nil {
		return CheckResult{Installed: installed}, fmt.Errorf("fetch latest version: %w", err)
	}
	return CheckResult{
		Installed: installed,
		Latest:    latest,
		Available: IsNewer(latest, installed),
	}, nil
}

func (u *Updater) check(ctx context.Context) (installed, latest string, newer bool, err error) {
	res, err := u.Check(ctx)
	return res.Installed, res.Latest, res.Available, err
}

// CheckForUser runs an interactive update check. Every outcome surfaces
// as a dialog. It returns the target version and true when the user
// accepted the upgrade.
func (u *Updater) CheckForUser(ctx context.Context) (string, bool) {
	installed, latest, newer, err := u.check(ctx)
	if err != nil {
		u.log().Warn("update check failed", "err", err)
		metrics.IncUpdateCheck("error")
		u.UI.Error("Update Check Failed", fmt.Sprintf("Could not check for updates: %v", err))
		return "", false
	}
	if !newer {
		metrics.IncUpdateCheck("up_to_date")
		u.UI.Info("No Updates Available", fmt.Sprintf("You are running the latest version (%s).", installed))
		return "", false
	}
	metrics.IncUpdateCheck("update_available")
	msg := fmt.Sprintf("Version %s is available (installed: %s).\nThe dashboard will restart during the update.", latest, installed)
	if !u.UI.Confirm("Update Available", msg, "Update Now") {
		u.log().Info("update declined", "latest", latest, "installed", installed)
		return "", false
	}
	return latest, true
}

// CheckAndNotify runs a background check. Failures and up-to-date
// results stay in the log; only an available update raises a
// notification. Nothing is installed.
func (u *Updater) CheckAndNotify(ctx context.Context) {
	installed, latest, newer, err := u.check(ctx)
	if err != nil {
		metrics.IncUpdateCheck("error")
		u.log().Warn("background update check failed", "err", err)
		return
	}
	if !newer {
		metrics.IncUpdateCheck("up_to_date")
		u.log().Debug("esphome up to date", "installed", installed)
		return
	}
	metrics.IncUpdateCheck("update_available")
	u.log().Info("update available", "latest", latest, "installed", installed)
	u.UI.Notify("ESPHome Update Available", fmt.Sprintf("Version %s is available (installed: %s).", latest, installed))
}

// Apply installs version: stop the dashboard, install, restart if it was
// running before. A failed install restarts the old version best-effort.
// A failed restart after a successful install returns *PartialUpdateError.
func (u *Updater) Apply(ctx context.Context, version string) error {
	from := ""
	if v, err := u.Installed(ctx); err == nil {
		from = v
	}
	wasRunning := u.Daemon.IsRunning()

	if wasRunning {
		if err := u.Daemon.Stop(); err != nil {
			u.log().Error("stop before update failed", "err", err)
			metrics.IncUpdateInstall("failed")
			u.recordUpdate(from, version, store.UpdateFailed, err)
			u.UI.Error("Update Failed", fmt.Sprintf("Could not stop the dashboard: %v", err))
			return fmt.Errorf("stop dashboard: %w", err)
		}
	}

	if err := u.Install.Install(ctx, version); err != nil {
		u.log().Error("install failed", "version", version, "err", err)
		metrics.IncUpdateInstall("failed")
		u.recordUpdate(from, version, store.UpdateFailed, err)

		var ie *InstallError
		detail := err.Error()
		if errors.As(err, &ie) && ie.Stderr != "" {
			detail = ie.Stderr
		}
		u.UI.Error("Update Failed", fmt.Sprintf("Installing version %s failed:\n%s", version, detail))

		// put the old version back in service
		if wasRunning {
			if rerr := u.Daemon.Start(); rerr != nil {
				u.log().Error("restart after failed install also failed", "err", rerr)
			}
		}
		return err
	}

	if wasRunning {
		if err := u.Daemon.Start(); err != nil {
			metrics.IncUpdateInstall("partial")
			perr := &PartialUpdateError{Version: version, RestartErr: err}
			u.recordUpdate(from, version, store.UpdatePartial, perr)
			u.UI.Error("Update Partially Complete",
				fmt.Sprintf("Version %s was installed but the dashboard failed to restart: %v", version, err))
			return perr
		}
	}

	metrics.IncUpdateInstall("ok")
	u.recordUpdate(from, version, store.UpdateOK, nil)
	u.log().Info("update complete", "from", from, "to", version)
	u.UI.Info("Update Complete", fmt.Sprintf("ESPHome %s is now installed.", version))
	return nil
}

// RunInteractive is the full user-driven flow: check, confirm, apply.
func (u *Updater) RunInteractive(ctx context.Context) error {
	version, ok := u.CheckForUser(ctx)
	if !ok {
		return nil
	}
	return u.Apply(ctx, version)
}

func (u *Updater) recordUpdate(from, to string, outcome store.UpdateOutcome, cause error) {
	if u.Store == nil {
		return
	}
	rec := store.UpdateRecord{FromVersion: from, ToVersion: to, Outcome: outcome}
	if cause != nil {
		rec.Error = cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := u.Store.RecordUpdate(ctx, rec); err != nil {
		u.log().Warn("record update attempt failed", "err", err)
	}
}
