package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the console logger used by the CLI and server. Output goes to
// stderr so it never interleaves with report output on stdout.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		return NewAtLevel(zapcore.DebugLevel)
	}
	return NewAtLevel(zapcore.WarnLevel)
}

// NewAtLevel builds the console logger with an explicit minimum level.
// Stack traces are only attached in debug mode.
func NewAtLevel(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = level > zapcore.DebugLevel
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}

// Init builds a logger and installs it as the zap global
func Init(verbose bool) (*zap.Logger, error) {
	l, err := New(verbose)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(l)
	return l, nil
}
