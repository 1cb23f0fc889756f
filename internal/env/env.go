package env

import (
	"os"
	"path/filepath"
	"strings"
)

// Env composes the environment handed to the dashboard child process.
// It starts from a snapshot of the OS environment and applies overrides
// and PATH prepends on top. The composed result is an immutable slice;
// Env itself is not safe for concurrent mutation.
type Env struct {
	base     map[string]string // cached OS environment
	override map[string]string // K->V overrides applied on top of base
	prepends []string          // directories prepended to PATH, in order
}

func New() *Env {
	return &Env{override: make(map[string]string)}
}

// FromOS caches the current process environment as the base.
// Called lazily by Environ when no snapshot was taken.
func (e *Env) FromOS() {
	base := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			base[k] = kv[i+1:]
		}
	}
	e.base = base
}

// Set overrides a single variable for the child.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.override == nil {
		e.override = make(map[string]string)
	}
	e.override[k] = v
}

// PrependPath adds dir to the front of the child's PATH. Multiple calls
// keep their relative order (first call ends up first on PATH).
func (e *Env) PrependPath(dir string) {
	if dir == "" {
		return
	}
	e.prepends = append(e.prepends, dir)
}

// Environ builds the final "K=V" slice: OS snapshot, then overrides,
// then PATH prepends. Extra entries are applied last and win.
func (e *Env) Environ(extra []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(map[string]string, len(e.base)+len(e.override)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.override {
		m[k] = v
	}
	for _, kv := range extra {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			k := kv[:i]
			if k == "" {
				continue
			}
			m[k] = kv[i+1:]
		}
	}
	if len(e.prepends) > 0 {
		m["PATH"] = joinPath(e.prepends, m["PATH"])
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func joinPath(prepends []string, current string) string {
	parts := make([]string, 0, len(prepends)+1)
	parts = append(parts, prepends...)
	if current != "" {
		parts = append(parts, current)
	}
	return strings.Join(parts, string(filepath.ListSeparator))
}
