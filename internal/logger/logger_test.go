package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	l := Setup(Config{Dir: dir, Level: "debug"})

	l.Info("hello from test", "key", "value")

	b, err := os.ReadFile(filepath.Join(dir, "esphomed.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	s := string(b)
	if !strings.Contains(s, "hello from test") || !strings.Contains(s, `"key":"value"`) {
		t.Fatalf("log content: %q", s)
	}
}

func TestSetupInstallsDefault(t *testing.T) {
	l := Setup(Config{Level: "warn"})
	if slog.Default() != l {
		t.Fatal("Setup must install the default logger")
	}
	ctx := context.Background()
	if l.Enabled(ctx, slog.LevelInfo) {
		t.Fatal("info must be suppressed at warn level")
	}
	if !l.Enabled(ctx, slog.LevelError) {
		t.Fatal("error must pass at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"unknown": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
