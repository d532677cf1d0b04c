// Package log provides aeronet's console logging on top of go.uber.org/zap:
// a small set of leveled package functions (Debug/Info/Warn/Error/Success/
// Fatal), a Section banner for startup logs, and a runtime level gate.
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ANSI color codes used by the console encoder's level strings.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

var (
	base  *zap.Logger
	sugar *zap.SugaredLogger
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
)

func init() {
	Configure(os.Getenv("AERONET_LOG_FORMAT") == "json")
}

// Configure rebuilds the package logger. jsonFormat selects a JSON encoder
// (suitable for log aggregation); otherwise a colorized console encoder is
// used, mirroring zap's own NewDevelopment/NewProduction split.
func Configure(jsonFormat bool) {
	var encoder zapcore.Encoder
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = coloredLevelEncoder
	if jsonFormat {
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(cfg)
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	base = zap.New(core)
	sugar = base.Sugar()
}

func coloredLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var color string
	switch level {
	case zapcore.DebugLevel:
		color = colorReset
	case zapcore.WarnLevel:
		color = colorYellow
	case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		color = colorRed
	default:
		color = colorCyan
	}
	enc.AppendString(color + level.CapitalString() + colorReset)
}

// SetLevel adjusts the minimum emitted level.
func SetLevel(l zapcore.Level) { level.SetLevel(l) }

// With returns a child *zap.SugaredLogger with the given key/value pairs
// attached, e.g. log.With("session", id) for per-session log lines.
func With(args ...interface{}) *zap.SugaredLogger {
	return sugar.With(args...)
}

func Debug(format string, args ...interface{}) { sugar.Debugf(format, args...) }
func Info(format string, args ...interface{})  { sugar.Infof(format, args...) }
func Warn(format string, args ...interface{})  { sugar.Warnf(format, args...) }
func Error(format string, args ...interface{}) { sugar.Errorf(format, args...) }
func Fatal(format string, args ...interface{}) { sugar.Fatalf(format, args...) }

// Success logs at info level with a green highlight; zap has no dedicated
// success level, so this is a thin wrapper over Info.
func Success(format string, args ...interface{}) {
	sugar.Infof(colorGreen+format+colorReset, args...)
}

// Section prints a banner-style section header for long-running server
// startup logs.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	sugar.Infof("\n%s╔%s╗%s", colorCyan, border, colorReset)
	sugar.Infof("%s║ %-57s ║%s", colorCyan, title, colorReset)
	sugar.Infof("%s╚%s╝%s", colorCyan, border, colorReset)
}

// Sync flushes any buffered log entries; callers should defer this at
// process exit.
func Sync() error { return base.Sync() }
