// Package util holds the small pieces of node infrastructure shared across
// packages that would otherwise each construct their own logger or clock:
// structured JSON logging via zap, and a Clock interface so consensus
// timing (round timeouts, block timestamp drift checks) can be driven by a
// fake clock in tests instead of wall time.
package util

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// validatorFields are attached to every log line this package produces so
// multi-validator local testnets (several node processes sharing one
// terminal or log aggregator) can be filtered by node.
func validatorFields(moniker string) []zap.Field {
	if moniker == "" {
		return nil
	}
	return []zap.Field{zap.String("moniker", moniker)}
}

// NewLogger builds the node's default console logger: JSON-encoded,
// info level, ISO8601 timestamps. moniker, if non-empty, is attached to
// every line so a validator can be picked out of aggregated logs.
func NewLogger(moniker string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build(zap.Fields(validatorFields(moniker)...))
}

// NewLoggerWithFile creates a logger that writes to both console and a file
// rooted at the node's home directory, tagging every line with moniker the
// same way NewLogger does.
func NewLoggerWithFile(logPath string, moniker string) (*zap.Logger, error) {
	// Ensure log directory exists
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// Open log file
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	// Encoder config
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	// Console encoder (JSON for structured logs)
	consoleEncoder := zapcore.NewJSONEncoder(encoderCfg)

	// File encoder (JSON as well)
	fileEncoder := zapcore.NewJSONEncoder(encoderCfg)

	// Create multi-writer core
	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stdout), zap.InfoLevel),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(file), zap.InfoLevel),
	)

	return zap.New(core, zap.Fields(validatorFields(moniker)...)), nil
}
