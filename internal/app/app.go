// Package app wires configuration, storage and the engine for the binaries.
package app

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"missionline/internal/config"
	"missionline/internal/db"
	"missionline/internal/engine"
	"missionline/internal/generation"
	"missionline/internal/migrate"
)

// Runtime is an opened workspace.
type Runtime struct {
	DB      *sql.DB
	Dialect db.Dialect
	Config  *config.Config
	Engine  engine.Engine
	Logger  *slog.Logger
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Options control Open. Generator overrides the configured LLM client.
type Options struct {
	Workspace string
	Config    *config.Config
	Logger    *slog.Logger
	Generator generation.Generator
}

// Open connects to the configured database, applies migrations and builds
// the engine.
func Open(opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Database.Driver == string(db.DialectSQLite) {
		if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
			return nil, err
		}
	}
	conn, dialect, err := db.Open(db.Config{Workspace: opts.Workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	gen := opts.Generator
	if gen == nil {
		gen = generation.NewOpenAI(generation.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLMTimeout(),
			Logger:  logger,
		})
	}
	eng, err := engine.New(conn, dialect, cfg, gen)
	if err != nil {
		conn.Close()
		return nil, err
	}
	eng.Logger = logger
	eng.Selector.Logger = logger
	return &Runtime{DB: conn, Dialect: dialect, Config: cfg, Engine: eng, Logger: logger}, nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
