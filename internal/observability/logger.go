// Package observability holds the process-wide logger, metrics registry and
// tracer setup.
package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logging profiles.
const (
	ProfileStructured = "structured"
	ProfileConsole    = "console"
)

// CLILogger is the logger used by commands. It starts as a console logger
// at info level and is replaced by InitCLILogger.
var CLILogger = mustConsole()

func mustConsole() *zap.Logger {
	l, err := NewLogger("info", ProfileConsole)
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// NewLogger builds a logger writing to stderr. The structured profile emits
// JSON lines; the console profile emits human-readable lines without
// caller or stack decoration.
func NewLogger(level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	var cfg zap.Config
	switch strings.ToLower(profile) {
	case ProfileStructured, "":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	case ProfileConsole:
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableCaller = true
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.TimeKey = ""
	default:
		return nil, fmt.Errorf("unknown logging profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// InitCLILogger replaces CLILogger. The previous logger is flushed.
func InitCLILogger(level, profile string) error {
	l, err := NewLogger(level, profile)
	if err != nil {
		return err
	}
	_ = CLILogger.Sync()
	CLILogger = l
	return nil
}
