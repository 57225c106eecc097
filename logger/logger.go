// Package logger provides the global structured logger for hharvest.
//
// The process has three log destinations that can be active at once: a
// human-readable console stream, a rotating JSON file under logs/, and
// the SQLite logs table (attached separately via AttachStoreSink so the
// logger never imports the store). All packages log through the
// package-level helpers; Initialize is called once from the CLI root.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Global logger instance
	Logger *zap.SugaredLogger
	// Flag to track if JSON output is enabled
	JSONOutput bool
)

func init() {
	// Safe no-op logger at package load time so early calls never panic
	Logger = zap.NewNop().Sugar()
}

// Options controls which outputs Initialize wires up. Level applies to
// the file output; the console threshold is derived from Level unless a
// positive Verbosity raises it.
type Options struct {
	Level       string // minimum level for the log file: debug, info, warn, error
	FilePath    string // rotating log file path; empty disables file output
	MaxSizeMB   int    // rotate after this many megabytes
	BackupCount int    // rotated files to keep
	Console     bool   // mirror log output to stdout
	JSONOutput  bool   // emit JSON on stdout instead of the console encoder
	Verbosity   int    // -v flag count; overrides the console threshold when > 0
}

// Initialize replaces the global logger according to opts. With no
// outputs enabled the global stays a no-op logger.
func Initialize(opts Options) error {
	JSONOutput = opts.JSONOutput

	baseLevel := ParseLevel(opts.Level)
	var cores []zapcore.Core

	if opts.FilePath != "" {
		rotated := &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.BackupCount,
		}
		if rotated.MaxSize <= 0 {
			rotated.MaxSize = 100
		}
		cores = append(cores, zapcore.NewCore(
			newFileEncoder(),
			zapcore.AddSync(rotated),
			baseLevel,
		))
	}

	if opts.Console || opts.JSONOutput {
		consoleLevel := baseLevel
		if opts.Verbosity > 0 {
			consoleLevel = VerbosityToLevel(opts.Verbosity)
		}
		var enc zapcore.Encoder
		if opts.JSONOutput {
			enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		} else {
			enc = newConsoleEncoder()
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), consoleLevel))
	}

	if len(cores) == 0 {
		Logger = zap.NewNop().Sugar()
		return nil
	}

	// AddCaller so the file and store sinks can record module and function.
	zapLogger := zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	Logger = zapLogger.Sugar()
	return nil
}

// newFileEncoder builds the JSON encoder for the rotating log file. The
// timestamp is epoch seconds to match the logs table convention.
func newFileEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.EpochTimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// ParseLevel maps a config level string to a zap level. Unknown values
// fall back to info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug", "DEBUG":
		return zapcore.DebugLevel
	case "info", "INFO":
		return zapcore.InfoLevel
	case "warn", "warning", "WARN", "WARNING":
		return zapcore.WarnLevel
	case "error", "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		Logger.Sync()
	}
}

// Info logs an info message
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof logs a formatted info message
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Infow logs an info message with structured fields
func Infow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, keysAndValues...)
	}
}

// Error logs an error message
func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Error(args...)
	}
}

// Errorf logs a formatted error message
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// Errorw logs an error message with structured fields
func Errorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Errorw(msg, keysAndValues...)
	}
}

// Warn logs a warning message
func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Warn(args...)
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Warnw logs a warning message with structured fields
func Warnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, keysAndValues...)
	}
}

// Debug logs a debug message
func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Debug(args...)
	}
}

// Debugf logs a formatted debug message
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Debugw logs a debug message with structured fields
func Debugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Debugw(msg, keysAndValues...)
	}
}
