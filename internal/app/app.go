package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"pathfinder/internal/config"
	"pathfinder/internal/db"
	"pathfinder/internal/engine"
	"pathfinder/internal/migrate"
	"pathfinder/internal/notify"
	"pathfinder/internal/repo"
)

// Runtime bundles an engine with the resources it owns.
type Runtime struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Logger *slog.Logger
	queue  *notify.Queue
}

// Close drains pending notifications and closes the database.
func (r *Runtime) Close() error {
	if r.queue != nil {
		r.queue.Close()
	}
	return r.DB.Close()
}

// Bootstrap opens the workspace database, applies migrations and loads
// pathfinder.yml (defaults when absent). Notifications are wired only when
// the config enables a sink.
func Bootstrap(workspace string, logOut io.Writer) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger := NewLogger(cfg, logOut)
	e := engine.New(conn, cfg)
	e.Logger = logger
	rt := &Runtime{DB: conn, Config: cfg, Engine: e, Logger: logger}
	if q := notify.FromConfig(cfg, logger); q != nil {
		rt.queue = q
		rt.Engine.Notifier = q
	}
	return rt, nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stderr
	}
	level := slog.LevelInfo
	format := ""
	if cfg != nil {
		format = strings.ToLower(cfg.Logging.Format)
		switch strings.ToLower(cfg.Logging.Level) {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(out, opts))
	}
	return slog.New(slog.NewTextHandler(out, opts))
}

// ResolveProject returns override when set, otherwise the only project in
// the workspace.
func ResolveProject(ctx context.Context, r repo.Repo, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	items, err := r.ListProjects(ctx, repo.ProjectFilters{Limit: 2})
	if err != nil {
		return "", err
	}
	switch len(items) {
	case 0:
		return "", fmt.Errorf("no projects in workspace; start one with pf project start")
	case 1:
		return items[0].ID, nil
	default:
		return "", fmt.Errorf("project not specified; use --project")
	}
}
