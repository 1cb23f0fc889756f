// Package pyenv resolves the bundled Python environment that runs the
// esphome tool: where the interpreter lives, which bin directory goes on
// the child's PATH, and which esphome version is installed in it.
package pyenv

import (
	"os"
	"path/filepath"
	"runtime"
)

// Env locates the Python environment for a given data/resource layout.
// DataDir holds the user-writable copy of the venv (so pip can update it);
// ResourceDir holds the read-only venv shipped with the application.
type Env struct {
	DataDir     string
	ResourceDir string
	// Override forces a specific interpreter path, skipping venv resolution.
	Override string
}

// DefaultDataDir returns the per-user data directory for esphomed.
func DefaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ".esphomed"
	}
	return filepath.Join(base, "esphomed")
}

// DefaultConfigDir returns the default ESPHome config directory (~/esphome).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "esphome"
	}
	return filepath.Join(home, "esphome")
}

func binDirName() string {
	if runtime.GOOS == "windows" {
		return "Scripts"
	}
	return "bin"
}

func pythonName() string {
	if runtime.GOOS == "windows" {
		return "python.exe"
	}
	return "python"
}

func (e Env) userVenv() string    { return filepath.Join(e.DataDir, "venv") }
func (e Env) bundledVenv() string { return filepath.Join(e.ResourceDir, "python") }

// PythonPath resolves the interpreter: user venv first (updatable), then the
// bundled venv, then the system python as a development fallback.
func (e Env) PythonPath() string {
	if e.Override != "" {
		return e.Override
	}
	user := filepath.Join(e.userVenv(), binDirName(), pythonName())
	if fileExists(user) {
		return user
	}
	bundled := filepath.Join(e.bundledVenv(), binDirName(), pythonName())
	if fileExists(bundled) {
		return bundled
	}
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// VenvBin returns the venv bin/Scripts directory to prepend to the child's
// PATH so the dashboard can find the esphome entry point.
func (e Env) VenvBin() string {
	user := filepath.Join(e.userVenv(), binDirName())
	if dirExists(user) {
		return user
	}
	return filepath.Join(e.bundledVenv(), binDirName())
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

func dirExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
