package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"testline/internal/config"
)

// New builds a zap logger. Format "json" selects the production encoder,
// anything else a console encoder with coloured levels. Unknown levels fall
// back to info.
func New(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	var zapConfig zap.Config
	if format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// FromConfig builds the logger described by the log section.
func FromConfig(cfg *config.Config) (*zap.Logger, error) {
	if cfg == nil {
		return New("", "")
	}
	return New(cfg.Log.Level, cfg.Log.Format)
}
