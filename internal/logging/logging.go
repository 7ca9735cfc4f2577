// Package logging builds the service's zap logger.
package logging

import (
	"fmt"

	"go.uber.org/zap"
)

// New returns a sugared logger at the given level ("debug", "info", ...).
// development switches to console output with caller stack traces on warn.
func New(level string, development bool) (*zap.SugaredLogger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = lvl

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}
