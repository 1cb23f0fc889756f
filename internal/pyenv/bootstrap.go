package pyenv

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// EnsureVenv copies the bundled venv into the user data directory on first
// run so pip can later update it in place. A no-op when the user venv
// already has an interpreter.
func (e Env) EnsureVenv(logger *slog.Logger) error {
	check := filepath.Join(e.userVenv(), binDirName(), pythonName())
	if fileExists(check) {
		logger.Debug("user venv already exists", "path", e.userVenv())
		return nil
	}
	bundled := e.bundledVenv()
	if !dirExists(bundled) {
		return fmt.Errorf("bundled venv not found at %s", bundled)
	}
	logger.Info("copying bundled venv to user data directory", "from", bundled, "to", e.userVenv())
	if err := copyDir(bundled, e.userVenv()); err != nil {
		return fmt.Errorf("copy bundled venv: %w", err)
	}
	logger.Info("user venv ready", "path", e.userVenv())
	return nil
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o750)
		case info.Mode()&os.ModeSymlink != 0:
			// venvs symlink python back into themselves; recreate the link
			dest, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(dest, target)
		default:
			return copyFile(path, target, info.Mode())
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src) // #nosec G304 -- paths come from our own resource layout
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
