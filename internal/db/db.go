package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	workspaceDir  = ".testline"
	defaultDBName = "testline.db"
	driverName    = "sqlite"
)

type Config struct {
	Workspace string
	// Path overrides the database file location when set.
	Path string
}

func dbPath(cfg Config) string {
	if cfg.Path != "" {
		return cfg.Path
	}
	workspace := cfg.Workspace
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates the .testline directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath(cfg))
	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Wrap exposes an open connection through sqlx for struct scanning.
func Wrap(conn *sql.DB) *sqlx.DB {
	return sqlx.NewDb(conn, driverName)
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(Config{Workspace: workspace})
}
