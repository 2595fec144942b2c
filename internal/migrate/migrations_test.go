package migrate

import (
	"context"
	"testing"

	"testline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := Migrate(conn); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
	ctx := context.Background()
	cur, err := Current(ctx, conn)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	latest, err := Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if cur != latest || latest < 1 {
		t.Fatalf("expected version %d, got %d", latest, cur)
	}
	for _, table := range []string{"users", "projects", "epics", "user_stories", "test_cases", "test_suites", "test_runs", "test_executions", "test_execution_steps", "events", "api_keys"} {
		var n int
		if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil || n != 1 {
			t.Fatalf("missing table %s (err=%v)", table, err)
		}
	}
}

func TestCurrentOnEmptyDatabase(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	v, err := Current(context.Background(), conn)
	if err != nil || v != 0 {
		t.Fatalf("expected 0, got %d (%v)", v, err)
	}
}
