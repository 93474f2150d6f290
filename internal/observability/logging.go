// Package observability owns logger construction for the CLI and agent
// components.
package observability

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is the logger used by CLI commands. It writes human-readable
// output to stderr so stdout stays reserved for command results.
var CLILogger = newCLILogger()

func newCLILogger() *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zapcore.InfoLevel
	if v := os.Getenv("DAGSTER_CLOUD_LOG_LEVEL"); v != "" {
		if parsed, err := zapcore.ParseLevel(v); err == nil {
			level = parsed
		}
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core)
}

// Sync flushes buffered log entries. Called before process exit.
func Sync() {
	_ = CLILogger.Sync()
}
