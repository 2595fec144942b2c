package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Import.MaxUploadBytes != 10<<20 {
		t.Fatalf("unexpected upload limit %d", cfg.Import.MaxUploadBytes)
	}
	if cfg.Reports.TrendDays != 30 || cfg.Export.ExecutionMaxWidth != 70 {
		t.Fatalf("unexpected defaults: %+v", cfg.Reports)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("expected default addr, got %q", cfg.Server.Addr)
	}
}

func TestLoadFileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	yml := "server:\n  addr: 0.0.0.0:9000\nlog:\n  level: debug\nnotifications:\n  webhooks:\n    - url: http://example.test/hook\n      events: [\"execution.bulk\"]\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TESTLINE_LOG_LEVEL", "warn")
	t.Setenv("TESTLINE_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("TESTLINE_REPORTS_TREND_DAYS", "14")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("file value lost: %q", cfg.Server.Addr)
	}
	if cfg.Log.Level != "warn" || cfg.Auth.JWTSecret != "s3cret" || cfg.Reports.TrendDays != 14 {
		t.Fatalf("env overlay not applied: level=%q secret=%q trend=%d", cfg.Log.Level, cfg.Auth.JWTSecret, cfg.Reports.TrendDays)
	}
	if cfg.Export.TestCaseMaxWidth != 50 {
		t.Fatalf("defaults not kept for unset sections")
	}
	if len(cfg.Notifications.Webhooks) != 1 || cfg.Notifications.Webhooks[0].Events[0] != "execution.bulk" {
		t.Fatalf("webhooks not decoded: %+v", cfg.Notifications.Webhooks)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"bad level":     "log:\n  level: loud\n",
		"bad format":    "log:\n  format: xml\n",
		"bad extension": "import:\n  allowed_extensions: [\"xlsx\"]\n",
		"hook url":      "notifications:\n  webhooks:\n    - events: [\"*\"]\n",
		"bad base path": "server:\n  base_path: api\n",
	}
	for name, yml := range cases {
		if _, err := FromYAML([]byte(yml)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
