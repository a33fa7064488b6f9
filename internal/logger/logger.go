// Package logger sets up the process-wide zap logger used by the CLI.
// Library packages take a *zap.Logger instead of reaching for the global.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the global logger. It discards everything until Init runs.
var Log = zap.NewNop()

// Sugar is the sugared form of Log.
var Sugar = Log.Sugar()

// Options selects the level and sinks
type Options struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`

	// File enables a rotated log file when non-empty
	File string `yaml:"file"`

	MaxSizeMB  int  `yaml:"maxSizeMB"`
	MaxBackups int  `yaml:"maxBackups"`
	MaxAgeDays int  `yaml:"maxAgeDays"`
	Compress   bool `yaml:"compress"`

	// JSON switches the file encoder from console to JSON lines
	JSON bool `yaml:"json"`
}

// DefaultOptions logs at info to the console only.
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

// Init builds the global logger. console receives human-readable output
// and may be nil to log only to the file.
func Init(opts Options, console io.Writer) error {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	var cores []zapcore.Core
	if console != nil {
		enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:          "time",
			LevelKey:         "level",
			NameKey:          "logger",
			MessageKey:       "msg",
			EncodeTime:       zapcore.TimeEncoderOfLayout("15:04:05"),
			EncodeLevel:      zapcore.CapitalColorLevelEncoder,
			EncodeName:       zapcore.FullNameEncoder,
			ConsoleSeparator: " ",
		})
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(console), lvl))
	}

	if opts.File != "" {
		w := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
			LocalTime:  true,
		}
		encCfg := zapcore.EncoderConfig{
			TimeKey:          "time",
			LevelKey:         "level",
			NameKey:          "logger",
			MessageKey:       "msg",
			CallerKey:        "caller",
			EncodeTime:       zapcore.ISO8601TimeEncoder,
			EncodeLevel:      zapcore.CapitalLevelEncoder,
			EncodeCaller:     zapcore.ShortCallerEncoder,
			EncodeDuration:   zapcore.StringDurationEncoder,
			EncodeName:       zapcore.FullNameEncoder,
			ConsoleSeparator: " ",
		}
		var enc zapcore.Encoder
		if opts.JSON {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(w), lvl))
	}

	Log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	Sugar = Log.Sugar()
	return nil
}

// InitConsole logs to stderr at the given level, keeping stdout free for
// command output.
func InitConsole(level string) error {
	opts := DefaultOptions()
	opts.Level = level
	return Init(opts, os.Stderr)
}

// ParseLevel converts a level name to a zapcore.Level. An empty name is info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// Named returns a child of the global logger for one component.
func Named(component string) *zap.Logger {
	return Log.Named(component)
}

// Sync flushes buffered entries.
func Sync() {
	_ = Log.Sync()
}

func Debug(msg string, fields ...zap.Field) { Log.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { Log.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { Log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { Log.Error(msg, fields...) }
