// Package logger constructs the structured loggers handed to the engine,
// storage, and compaction subsystems. It centralizes the zap configuration
// so every subsystem logs with the same encoding and level policy.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production-ready *zap.SugaredLogger tagged with the given
// service name. When ENV=development, it switches to a human-readable
// console encoder instead of JSON.
func New(service string) *zap.SugaredLogger {
	var cfg zap.Config
	if os.Getenv("ENV") == "development" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	logger, err := cfg.Build()
	if err != nil {
		// Falling back to a no-op logger keeps callers from having to
		// handle a constructor error for what is purely an observability
		// concern.
		return zap.NewNop().Sugar()
	}

	return logger.Sugar().With("service", service)
}

// Nop returns a logger that discards everything. Used by tests and by
// callers that don't want log output.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
