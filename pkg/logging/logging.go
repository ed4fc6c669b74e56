// Package logging builds the zap loggers used across plugforge.
//
// Components receive a *zap.Logger and derive their own via Named(), so a
// single configuration point controls format and verbosity for the whole
// process.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns the process-wide logger. Debug mode uses the console encoder
// at debug level; otherwise output is JSON at info level.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	return zap.NewProduction()
}

// Nop returns a logger that discards everything. Used as the default when a
// caller passes no logger, so library code never has to nil-check.
func Nop() *zap.Logger {
	return zap.NewNop()
}
