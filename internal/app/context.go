package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"testline/internal/config"
	"testline/internal/db"
	"testline/internal/domain"
	"testline/internal/engine"
	"testline/internal/logging"
	"testline/internal/migrate"
	"testline/internal/repo"
)

// DefaultUser acts when no user is given on the command line.
const DefaultUser = "local-user"

// Workspace is an opened, migrated workspace with its config, logger and
// engine wired together.
type Workspace struct {
	Dir    string
	DB     *sql.DB
	Config *config.Config
	Log    *zap.Logger
	Engine engine.Engine
}

// Open prepares the workspace directory, opens and migrates the database,
// then loads testline.yml with its environment overrides.
func Open(ctx context.Context, dir string) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(dir); err != nil {
		return nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.FromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Debug("workspace opened", zap.String("workspace", dir), zap.String("db", db.Path(dir)))
	return &Workspace{
		Dir:    dir,
		DB:     conn,
		Config: cfg,
		Log:    log,
		Engine: engine.New(conn, cfg, log),
	}, nil
}

func (w *Workspace) Close() error {
	_ = w.Log.Sync()
	return w.DB.Close()
}

// ResolveScope turns a user id or username into the acting scope, creating
// the user on first use. An empty value means DefaultUser.
func ResolveScope(ctx context.Context, e engine.Engine, user string) (domain.Scope, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		user = DefaultUser
	}
	if _, err := e.GetUser(ctx, user); err == nil {
		return domain.ScopeFor(user), nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Scope{}, err
	}
	if u, err := e.Repo.GetUserByUsername(ctx, user); err == nil {
		return domain.ScopeFor(u.ID), nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Scope{}, err
	}
	u, err := e.EnsureUser(ctx, domain.ScopeFor(user))
	if err != nil {
		return domain.Scope{}, err
	}
	return domain.ScopeFor(u.ID), nil
}
