package updater

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// InstallError means both installers failed. Stderr carries the captured
// standard-error text of the final attempt.
type InstallError struct {
	Version string
	Stderr  string
	Err     error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("install esphome==%s failed", e.Version)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *InstallError) Unwrap() error { return e.Err }

// PipInstaller installs an exact esphome version into the python
// environment, preferring `uv pip` and falling back to plain pip.
type PipInstaller struct {
	Python string
	Logger *slog.Logger
}

func (p *PipInstaller) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Install runs `<python> -m uv pip install esphome==<version>`; on failure it
// retries with `<python> -m pip install esphome==<version>`. Success is the
// exit code of whichever attempt ran last.
func (p *PipInstaller) Install(ctx context.Context, version string) error {
	pkg := fmt.Sprintf("%s==%s", pypiPackage, version)

	if stderr, err := p.run(ctx, "-m", "uv", "pip", "install", pkg); err == nil {
		p.logger().Info("installed via uv", "package", pkg)
		return nil
	} else {
		p.logger().Debug("uv install failed, falling back to pip", "error", err, "stderr", stderr)
	}

	stderr, err := p.run(ctx, "-m", "pip", "install", pkg)
	if err != nil {
		return &InstallError{Version: version, Stderr: stderr, Err: err}
	}
	p.logger().Info("installed via pip", "package", pkg)
	return nil
}

func (p *PipInstaller) run(ctx context.Context, args ...string) (string, error) {
	// #nosec G204 -- interpreter path resolved from our own venv layout
	cmd := exec.CommandContext(ctx, p.Python, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.String(), err
}
