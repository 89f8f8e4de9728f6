// Package logging provides the portal's structured, levelled logger.
//
// Call sites use the package-level Debug/Info/Warn/Error helpers with a
// message and a field map; output is JSON in production and text otherwise.
package logging

import (
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Config selects the output shape of the default logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	Env    string // production forces json
	Output io.Writer
}

// Logger wraps a logrus logger behind the msg+fields API used across the portal.
type Logger struct {
	entry *logrus.Logger
}

// DefaultLogger is the global logger instance
var DefaultLogger = New(Config{
	Level:  os.Getenv("PORTAL_LOG_LEVEL"),
	Format: os.Getenv("PORTAL_LOG_FORMAT"),
	Env:    os.Getenv("PORTAL_ENV"),
})

// New builds a Logger from cfg. Unknown levels fall back to info.
func New(cfg Config) *Logger {
	l := logrus.New()
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	l.SetOutput(out)
	l.SetLevel(parseLevel(cfg.Level))

	if cfg.Format == "json" || cfg.Env == "production" {
		l.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{logrus.FieldKeyMsg: "msg"},
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return &Logger{entry: l}
}

// Init replaces DefaultLogger. It is called once by the binary after config load.
func Init(cfg Config) {
	DefaultLogger = New(cfg)
}

func parseLevel(level string) logrus.Level {
	switch LogLevel(strings.ToLower(level)) {
	case LogLevelDebug:
		return logrus.DebugLevel
	case LogLevelWarn:
		return logrus.WarnLevel
	case LogLevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// getCaller returns the file and line number of the caller
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return ""
	}
	if i := strings.LastIndexByte(file, '/'); i >= 0 {
		file = file[i+1:]
	}
	return file + ":" + strconv.Itoa(line)
}

// Frames between getCaller and the code that logged: log plus one exported
// entry point for methods, one more for the package-level helpers.
const (
	methodSkip  = 3
	packageSkip = 4
)

func (l *Logger) log(skip int, level logrus.Level, msg string, fields map[string]any, err error) {
	if !l.entry.IsLevelEnabled(level) {
		return
	}
	e := l.entry.WithFields(logrus.Fields(fields)).WithField("caller", getCaller(skip))
	if err != nil {
		e = e.WithError(err)
	}
	e.Log(level, msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields map[string]any) {
	l.log(methodSkip, logrus.DebugLevel, msg, fields, nil)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields map[string]any) {
	l.log(methodSkip, logrus.InfoLevel, msg, fields, nil)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields map[string]any) {
	l.log(methodSkip, logrus.WarnLevel, msg, fields, nil)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields map[string]any, err error) {
	l.log(methodSkip, logrus.ErrorLevel, msg, fields, err)
}

// Global logging functions

func Debug(msg string, fields map[string]any) {
	DefaultLogger.log(packageSkip, logrus.DebugLevel, msg, fields, nil)
}

func Info(msg string, fields map[string]any) {
	DefaultLogger.log(packageSkip, logrus.InfoLevel, msg, fields, nil)
}

func Warn(msg string, fields map[string]any) {
	DefaultLogger.log(packageSkip, logrus.WarnLevel, msg, fields, nil)
}

func Error(msg string, fields map[string]any, err error) {
	DefaultLogger.log(packageSkip, logrus.ErrorLevel, msg, fields, err)
}
