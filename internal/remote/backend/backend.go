// Package backend builds a remote.Table from configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/idilsaglam/quicklist/internal/remote"
	"github.com/idilsaglam/quicklist/internal/remote/postgres"
	"github.com/idilsaglam/quicklist/internal/remote/supabase"
)

const (
	Supabase = "supabase"
	Postgres = "postgres"
)

// ErrNotConfigured means the selected backend is missing a connection setting.
var ErrNotConfigured = errors.New("remote not configured")

// Config holds configuration for the remote todos table.
type Config struct {
	// Backend selects the implementation (supabase, postgres).
	Backend string `mapstructure:"backend" default:"supabase"`
	// URL is the project URL of the hosted table.
	URL string `mapstructure:"url" default:""`
	// Key is the API key. Empty falls back to the stored credential.
	Key string `mapstructure:"key" default:""`
	// Schema is the database schema exposed over REST.
	Schema string `mapstructure:"schema" default:"public"`
	// Table is the todos table name.
	Table string `mapstructure:"table" default:"todos"`
	// DSN is the Postgres connection string for the postgres backend.
	DSN string `mapstructure:"dsn" default:""`
	// Channel is the NOTIFY channel; empty means <table>_changes.
	Channel string `mapstructure:"channel" default:""`
	// EnsureSchema creates the table and trigger on connect (postgres only).
	EnsureSchema bool `mapstructure:"ensure_schema" default:"false"`
	// TimeoutSeconds bounds each remote call.
	TimeoutSeconds int `mapstructure:"timeout_seconds" default:"15"`
	// HeartbeatSeconds is the realtime keepalive interval.
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds" default:"30"`
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// Validate checks the fields the selected backend needs.
func (c Config) Validate() error {
	switch c.name() {
	case Supabase:
		if strings.TrimSpace(c.URL) == "" {
			return fmt.Errorf("%w: url is required for the supabase backend", ErrNotConfigured)
		}
		if strings.TrimSpace(c.Key) == "" {
			return fmt.Errorf("%w: key is required for the supabase backend", ErrNotConfigured)
		}
	case Postgres:
		if strings.TrimSpace(c.DSN) == "" {
			return fmt.Errorf("%w: dsn is required for the postgres backend", ErrNotConfigured)
		}
	default:
		return fmt.Errorf("unsupported remote backend: %s", c.Backend)
	}
	return nil
}

func (c Config) name() string {
	name := strings.ToLower(strings.TrimSpace(c.Backend))
	if name == "postgresql" {
		return Postgres
	}
	if name == "" {
		return Supabase
	}
	return name
}

// Open returns the configured Table. The caller owns Close.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (remote.Table, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.name() {
	case Postgres:
		t, err := postgres.Open(ctx, postgres.Config{
			DSN:     cfg.DSN,
			Table:   cfg.Table,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout(),
			Logger:  logger.Named("postgres"),
		})
		if err != nil {
			return nil, err
		}
		if cfg.EnsureSchema {
			if err := t.EnsureSchema(ctx); err != nil {
				_ = t.Close()
				return nil, err
			}
		}
		return t, nil
	default:
		return supabase.New(supabase.Config{
			URL:       cfg.URL,
			Key:       cfg.Key,
			Schema:    cfg.Schema,
			Table:     cfg.Table,
			Timeout:   cfg.Timeout(),
			Heartbeat: cfg.Heartbeat(),
			Logger:    logger.Named("supabase"),
		})
	}
}
