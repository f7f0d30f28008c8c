// pkg/logger/logger.go
package logger

import (
	"io"
	"os"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel names a minimum severity.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l LogLevel) toCharmlogLevel() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case InfoLevel:
		return charmlog.InfoLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// Logger is the structured key-value logging interface the daemon uses.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type loggerImpl struct {
	charmLogger *charmlog.Logger
}

func (l *loggerImpl) Debug(msg string, keyvals ...any) { l.charmLogger.Debug(msg, keyvals...) }
func (l *loggerImpl) Info(msg string, keyvals ...any)  { l.charmLogger.Info(msg, keyvals...) }
func (l *loggerImpl) Warn(msg string, keyvals ...any)  { l.charmLogger.Warn(msg, keyvals...) }
func (l *loggerImpl) Error(msg string, keyvals ...any) { l.charmLogger.Error(msg, keyvals...) }

type Config struct {
	Level  LogLevel
	Output io.Writer
	JSON   bool
}

func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Output: os.Stdout,
		JSON:   false,
	}
}

func newLogger(cfg *Config) *loggerImpl {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	charmLogger := charmlog.NewWithOptions(cfg.Output, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Level:           cfg.Level.toCharmlogLevel(),
	})
	if cfg.JSON {
		charmLogger.SetFormatter(charmlog.JSONFormatter)
	}
	return &loggerImpl{charmLogger: charmLogger}
}

// NewLogger builds a standalone logger, mainly for tests that want to capture
// output.
func NewLogger(cfg *Config) Logger {
	return newLogger(cfg)
}

// The package-level logger works out of the box at info level; Init replaces
// it with the configured one at startup.
var defaultLogger = newLogger(nil)

func Init(cfg *Config) {
	defaultLogger = newLogger(cfg)
}

func Debug(msg string, keyvals ...any) { defaultLogger.Debug(msg, keyvals...) }
func Info(msg string, keyvals ...any)  { defaultLogger.Info(msg, keyvals...) }
func Warn(msg string, keyvals ...any)  { defaultLogger.Warn(msg, keyvals...) }
func Error(msg string, keyvals ...any) { defaultLogger.Error(msg, keyvals...) }

// With returns a sub-logger with preset key-value pairs.
func With(keyvals ...any) Logger {
	return &loggerImpl{charmLogger: defaultLogger.charmLogger.With(keyvals...)}
}
