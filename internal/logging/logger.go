package logging

import (
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs very detailed trace information and all above
	LevelTrace
)

var levelNames = map[LogLevel]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

var logrusLevels = map[LogLevel]logrus.Level{
	LevelError: logrus.ErrorLevel,
	LevelWarn:  logrus.WarnLevel,
	LevelInfo:  logrus.InfoLevel,
	LevelDebug: logrus.DebugLevel,
	LevelTrace: logrus.TraceLevel,
}

// String returns the level name
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a level name such as "debug" or "WARN" to a LogLevel
func ParseLevel(name string) (LogLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for level, levelName := range levelNames {
		if levelName == upper {
			return level, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Logger provides leveled, prefixed logging on top of a shared logrus logger.
// Loggers created with WithPrefix share level and output with their parent.
type Logger struct {
	prefix   string
	base     *logrus.Logger
	longFile bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("EXTENDFS")

		// Set initial log level from environment
		if level := os.Getenv("LOG_LEVEL"); level != "" {
			if parsed, err := ParseLevel(level); err == nil {
				defaultLogger.SetLevel(parsed)
			}
		}

		// Enable debug logging if FUSE_DEBUG is set
		if os.Getenv("FUSE_DEBUG") != "" {
			defaultLogger.SetLevel(LevelDebug)
		}
	})
	return defaultLogger
}

// NewLogger creates a new logger with the given prefix
func NewLogger(prefix string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&formatter{pid: os.Getpid()})

	return &Logger{
		prefix:   prefix,
		base:     base,
		longFile: os.Getenv("LOG_LONGFILE") != "",
	}
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	if lvl, ok := logrusLevels[level]; ok {
		l.base.SetLevel(lvl)
	}
}

// Level returns the current logging level
func (l *Logger) Level() LogLevel {
	current := l.base.GetLevel()
	for level, lvl := range logrusLevels {
		if lvl == current {
			return level
		}
	}
	return LevelInfo
}

// SetOutput redirects log output
func (l *Logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

func (l *Logger) log(level logrus.Level, format string, args ...interface{}) {
	if !l.base.IsLevelEnabled(level) {
		return
	}
	fields := logrus.Fields{prefixField: l.prefix}
	// skip log and the exported level method
	if pc, file, line, ok := runtime.Caller(2); ok {
		if !l.longFile {
			file = path.Base(file)
		}
		fields[callerField] = fmt.Sprintf("%s@%s:%d", methodName(runtime.FuncForPC(pc).Name()), file, line)
	}
	l.base.WithFields(fields).Logf(level, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(logrus.ErrorLevel, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(logrus.WarnLevel, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(logrus.InfoLevel, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(logrus.DebugLevel, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(logrus.TraceLevel, format, args...)
}

// WithPrefix creates a new logger with an additional prefix
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		prefix:   l.prefix + "/" + prefix,
		base:     l.base,
		longFile: l.longFile,
	}
}

const (
	prefixField = "prefix"
	callerField = "caller"
)

// formatter renders one line per entry:
//
//	2006/01/02 15:04:05.000000 EXTENDFS/vfs[1234] <INFO>: message [func@file.go:42]
type formatter struct {
	pid int
}

func (f *formatter) Format(e *logrus.Entry) ([]byte, error) {
	const timeFormat = "2006/01/02 15:04:05.000000"

	prefix, _ := e.Data[prefixField].(string)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s[%d] <%s>: %s",
		e.Time.UTC().Format(timeFormat),
		prefix,
		f.pid,
		strings.ToUpper(e.Level.String()),
		strings.TrimRight(e.Message, "\n"))

	if caller, ok := e.Data[callerField].(string); ok {
		fmt.Fprintf(&b, " [%s]", caller)
	}

	for k, v := range e.Data {
		if k == prefixField || k == callerField {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", k, v)
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// methodName trims the package path from a fully qualified function name.
func methodName(fullFuncName string) string {
	lastSlash := strings.LastIndex(fullFuncName, "/")
	name := fullFuncName[lastSlash+1:]
	if dot := strings.Index(name, "."); dot != -1 && dot < len(name)-1 {
		name = name[dot+1:]
	}
	return name
}
