package store

import "fmt"

// Config selects and parameterizes the event store backend.
type Config struct {
	Type string `mapstructure:"type"` // "sqlite" (default), "postgres", or "" to disable
	Path string `mapstructure:"path"` // sqlite database file
	DSN  string `mapstructure:"dsn"`  // postgres connection string
}

// Open builds a Store from config. Returns (nil, nil) when no store is
// configured; callers must treat a nil Store as "recording disabled".
func Open(c Config) (Store, error) {
	switch c.Type {
	case "":
		return nil, nil
	case "sqlite":
		if c.Path == "" {
			return nil, fmt.Errorf("sqlite store requires path")
		}
		return NewSQLite(c.Path)
	case "postgres":
		if c.DSN == "" {
			return nil, fmt.Errorf("postgres store requires dsn")
		}
		return NewPostgres(c.DSN)
	default:
		return nil, fmt.Errorf("unknown store type %q", c.Type)
	}
}
