package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"esphomed/internal/daemon"
	"esphomed/internal/logger"
	"esphomed/internal/pyenv"
	"esphomed/internal/store"
)

const (
	// FileName is the config file looked up inside the data directory.
	FileName = "config.toml"

	defaultUpdateInterval = 24 * time.Hour
	defaultListen         = "127.0.0.1:6053"
	defaultBasePath       = "/api"
)

// Config is the full application configuration, loaded from a TOML file
// with sane defaults for every field.
type Config struct {
	Port           int           `mapstructure:"port"`            // dashboard listen port
	ConfigDir      string        `mapstructure:"config_dir"`      // ESPHome yaml directory
	DataDir        string        `mapstructure:"data_dir"`        // logs, pid file, event store
	ResourceDir    string        `mapstructure:"resource_dir"`    // bundled python, optional
	PythonPath     string        `mapstructure:"python_path"`     // explicit interpreter override
	OpenOnStart    bool          `mapstructure:"open_on_start"`   // open the browser once ready
	CheckUpdates   bool          `mapstructure:"check_updates"`   // periodic background checks
	UpdateInterval time.Duration `mapstructure:"update_interval"` // between background checks

	Health  daemon.HealthConfig `mapstructure:"health"`
	Server  ServerConfig        `mapstructure:"server"`
	Metrics MetricsConfig       `mapstructure:"metrics"`
	Store   store.Config        `mapstructure:"store"`
	Log     logger.Config       `mapstructure:"log"`
}

// ServerConfig configures the local control API.
type ServerConfig struct {
	Listen   string `mapstructure:"listen"`
	BasePath string `mapstructure:"base_path"`
}

// MetricsConfig configures the Prometheus endpoint. When Listen is empty
// the metrics handler shares the control API listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	dataDir := pyenv.DefaultDataDir()
	return Config{
		Port:           daemon.DefaultPort,
		ConfigDir:      pyenv.DefaultConfigDir(),
		DataDir:        dataDir,
		OpenOnStart:    true,
		CheckUpdates:   true,
		UpdateInterval: defaultUpdateInterval,
		Server: ServerConfig{
			Listen:   defaultListen,
			BasePath: defaultBasePath,
		},
		Metrics: MetricsConfig{Enabled: true},
		Store: store.Config{
			Type: "sqlite",
			Path: filepath.Join(dataDir, "events.db"),
		},
		Log: logger.Config{
			Level: "info",
			Dir:   filepath.Join(dataDir, "logs"),
		},
	}
}

// DefaultPath is the standard config file location.
func DefaultPath() string {
	return filepath.Join(pyenv.DefaultDataDir(), FileName)
}

// Load reads the TOML file at path on top of defaults. An empty path uses
// DefaultPath; a missing file yields pure defaults without error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("stat config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as TOML to path, creating parent directories.
func Save(cfg Config, path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("port", cfg.Port)
	v.Set("config_dir", cfg.ConfigDir)
	v.Set("data_dir", cfg.DataDir)
	v.Set("resource_dir", cfg.ResourceDir)
	v.Set("python_path", cfg.PythonPath)
	v.Set("open_on_start", cfg.OpenOnStart)
	v.Set("check_updates", cfg.CheckUpdates)
	v.Set("update_interval", cfg.UpdateInterval.String())
	v.Set("health.disabled", cfg.Health.Disabled)
	if cfg.Health.Interval > 0 {
		v.Set("health.interval", cfg.Health.Interval.String())
	}
	if cfg.Health.Timeout > 0 {
		v.Set("health.timeout", cfg.Health.Timeout.String())
	}
	v.Set("server.listen", cfg.Server.Listen)
	v.Set("server.base_path", cfg.Server.BasePath)
	v.Set("metrics.enabled", cfg.Metrics.Enabled)
	v.Set("metrics.listen", cfg.Metrics.Listen)
	v.Set("store.type", cfg.Store.Type)
	v.Set("store.path", cfg.Store.Path)
	v.Set("store.dsn", cfg.Store.DSN)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.dir", cfg.Log.Dir)
	v.Set("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.Set("log.max_backups", cfg.Log.MaxBackups)
	v.Set("log.max_age_days", cfg.Log.MaxAgeDays)
	v.Set("log.compress", cfg.Log.Compress)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// PythonEnv builds the interpreter environment from the configured
// directories.
func (c Config) PythonEnv() pyenv.Env {
	return pyenv.Env{
		DataDir:     c.DataDir,
		ResourceDir: c.ResourceDir,
		Override:    c.PythonPath,
	}
}
