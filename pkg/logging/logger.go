// Package logging provides the relay's process-wide structured logger,
// plus a small set of domain-scoped constructors so call sites don't each
// hand-roll their own field set for a room or a session.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.Logger
	once   sync.Once
)

// Initialize builds the global logger. development selects a human-readable,
// colorized encoder; production selects JSON output suited to log collectors.
func Initialize(development bool) error {
	var err error
	once.Do(func() {
		var cfg zap.Config
		if development {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		logger, err = cfg.Build()
	})
	return err
}

// L returns the global logger, falling back to a development logger if
// Initialize was never called (e.g. in unit tests).
func L() *zap.Logger {
	if logger == nil {
		l, _ := zap.NewDevelopment()
		return l
	}
	return logger
}

// Sync flushes any buffered log entries. Call on shutdown.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}

// ForRoom returns a logger scoped to one room, tagged with its name.
// Room is the only caller that needs a room-scoped logger, so the field
// set stays fixed rather than growing an options list.
func ForRoom(name string) *zap.Logger {
	return L().With(zap.String("room", name))
}

// ForSession returns a logger scoped to one connection, tagged with an
// internal correlation id (never the protocol clientId, which is
// peer-supplied and may repeat across distinct connections over time)
// plus the clientId the session was admitted under.
func ForSession(correlationID string, clientID int) *zap.Logger {
	return L().With(zap.String("sessionId", correlationID), zap.Int("clientId", clientID))
}
