package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger outputs.
type Config struct {
	Enabled    bool
	Level      string
	File       string
	Console    bool
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var globalLogger atomic.Pointer[zap.SugaredLogger]

func init() {
	globalLogger.Store(zap.NewNop().Sugar())
}

// Init initializes the logger. A disabled logger drops everything.
func Init(cfg Config) error {
	if !cfg.Enabled {
		globalLogger.Store(zap.NewNop().Sugar())
		return nil
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	level := parseLevel(cfg.Level)

	var sinks []zapcore.WriteSyncer
	if cfg.File != "" {
		dir := filepath.Dir(cfg.File)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			MaxAge:     orDefault(cfg.MaxAgeDays, 30),
		}))
	}
	if cfg.Console || len(sinks) == 0 {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.NewMultiWriteSyncer(sinks...), level)
	globalLogger.Store(zap.New(core).Sugar())
	return nil
}

func parseLevel(levelStr string) zapcore.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Debugf logs a debug message.
func Debugf(format string, args ...interface{}) {
	globalLogger.Load().Debugf(format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...interface{}) {
	globalLogger.Load().Infof(format, args...)
}

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) {
	globalLogger.Load().Warnf(format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...interface{}) {
	globalLogger.Load().Errorf(format, args...)
}

// Sync flushes buffered entries.
func Sync() error {
	return globalLogger.Load().Sync()
}
