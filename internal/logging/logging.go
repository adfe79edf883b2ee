// Package logging builds the process logger. Output always goes to
// stderr: stdout belongs to the MCP stdio transport and must carry
// nothing but protocol frames.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns the process logger. verbose enables debug level and
// caller annotations.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableCaller = true

	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Development = true
		cfg.DisableCaller = false
	}
	return cfg.Build()
}

// Nop is a discard logger for tests and for callers that opt out.
func Nop() *zap.Logger {
	return zap.NewNop()
}
