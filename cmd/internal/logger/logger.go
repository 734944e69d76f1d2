package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// BuildLogger ensures everything printed by the logger is done to stderr.
// This allows the application to print the JSON report to stdout, which can be redirected to a file.
// But application messages are kept in a separate stream.
func BuildLogger(verbose bool) {
	minLevel := zapcore.InfoLevel
	if verbose {
		minLevel = zapcore.DebugLevel
	}

	levels := zap.LevelEnablerFunc(func(level zapcore.Level) bool {
		return level >= minLevel
	})

	// write syncers
	stderrSyncer := zapcore.Lock(os.Stderr)

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}),
		stderrSyncer,
		levels,
	)

	// replace the global logger
	zap.ReplaceGlobals(zap.New(core, zap.AddCaller()))
}
