package pyenv

import (
	"context"
	"errors"
	"os/exec"
	"strings"
)

// ErrNotInstalled is returned when the esphome module cannot report a version
// from the resolved interpreter.
var ErrNotInstalled = errors.New("esphome is not installed in the python environment")

// InstalledVersion runs `<python> -m esphome version` and extracts the bare
// version string. The tool prints either "Version: 2024.1.0" or the version
// alone depending on release.
func (e Env) InstalledVersion(ctx context.Context) (string, error) {
	python := e.PythonPath()
	// #nosec G204 -- interpreter path resolved from our own venv layout
	out, err := exec.CommandContext(ctx, python, "-m", "esphome", "version").Output()
	if err != nil {
		return "", ErrNotInstalled
	}
	v := strings.TrimSpace(string(out))
	v = strings.TrimPrefix(v, "Version: ")
	if v == "" {
		return "", ErrNotInstalled
	}
	return v, nil
}
