package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	FileName  = "testline.yml"
	EnvPrefix = "TESTLINE"
)

// Config models testline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret             string `yaml:"jwt_secret"`
		AllowLegacyUserHeader bool   `yaml:"allow_legacy_user_header"`
	} `yaml:"auth"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Import struct {
		MaxUploadBytes    int64    `yaml:"max_upload_bytes"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
	} `yaml:"import"`
	Export struct {
		TestCaseMaxWidth  int `yaml:"testcase_max_width"`
		ExecutionMaxWidth int `yaml:"execution_max_width"`
	} `yaml:"export"`
	Reports struct {
		TrendDays       int `yaml:"trend_days"`
		RecentDays      int `yaml:"recent_days"`
		DashboardRecent int `yaml:"dashboard_recent"`
	} `yaml:"reports"`
	Notifications struct {
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notifications"`
}

// WebhookConfig is one notification sink. Events filters by type; an empty
// list or "*" receives everything.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Log.Level != "" && !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("config.log.level %q must be one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "" && c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("config.log.format must be json or console")
	}
	if c.Import.MaxUploadBytes <= 0 {
		return fmt.Errorf("config.import.max_upload_bytes must be positive")
	}
	if len(c.Import.AllowedExtensions) == 0 {
		return fmt.Errorf("config.import.allowed_extensions is required")
	}
	for _, ext := range c.Import.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("allowed extension %q must start with a dot", ext)
		}
	}
	if c.Export.TestCaseMaxWidth <= 0 || c.Export.ExecutionMaxWidth <= 0 {
		return fmt.Errorf("config.export column widths must be positive")
	}
	if c.Reports.TrendDays <= 0 || c.Reports.RecentDays <= 0 || c.Reports.DashboardRecent <= 0 {
		return fmt.Errorf("config.reports values must be positive")
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notifications.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML decodes raw YAML on top of the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Load reads testline.yml from the workspace, falling back to defaults when
// the file is absent, then applies TESTLINE_* environment overrides.
func Load(workspace string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(Path(workspace))
	switch {
	case err == nil:
		if cfg, err = FromYAML(data); err != nil {
			return nil, err
		}
	case !os.IsNotExist(err):
		return nil, err
	}
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	applyEnv(v, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the scalar settings that may be set from the environment,
// e.g. TESTLINE_SERVER_ADDR or TESTLINE_AUTH_JWT_SECRET.
func applyEnv(v *viper.Viper, cfg *Config) {
	strs := map[string]*string{
		"server.addr":      &cfg.Server.Addr,
		"server.base_path": &cfg.Server.BasePath,
		"auth.jwt_secret":  &cfg.Auth.JWTSecret,
		"log.level":        &cfg.Log.Level,
		"log.format":       &cfg.Log.Format,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	ints := map[string]*int{
		"export.testcase_max_width":  &cfg.Export.TestCaseMaxWidth,
		"export.execution_max_width": &cfg.Export.ExecutionMaxWidth,
		"reports.trend_days":         &cfg.Reports.TrendDays,
		"reports.recent_days":        &cfg.Reports.RecentDays,
		"reports.dashboard_recent":   &cfg.Reports.DashboardRecent,
	}
	for key, dst := range ints {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	if v.IsSet("auth.allow_legacy_user_header") {
		cfg.Auth.AllowLegacyUserHeader = v.GetBool("auth.allow_legacy_user_header")
	}
	if v.IsSet("import.max_upload_bytes") {
		cfg.Import.MaxUploadBytes = v.GetInt64("import.max_upload_bytes")
	}
	if v.IsSet("import.allowed_extensions") {
		var exts []string
		for _, ext := range strings.Split(v.GetString("import.allowed_extensions"), ",") {
			if ext = strings.TrimSpace(ext); ext != "" {
				exts = append(exts, ext)
			}
		}
		cfg.Import.AllowedExtensions = exts
	}
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: ""

auth:
  jwt_secret: ""
  allow_legacy_user_header: true

log:
  level: info
  format: console

import:
  max_upload_bytes: 10485760
  allowed_extensions: [".xlsx", ".xls"]

export:
  testcase_max_width: 50
  execution_max_width: 70

reports:
  trend_days: 30
  recent_days: 7
  dashboard_recent: 5

notifications:
  webhooks: []
`
