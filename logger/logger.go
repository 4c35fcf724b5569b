package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
)

// Level orders log messages by severity.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int32(l))
	}
}

// ParseLevel accepts the names returned by Level.String plus "warn".
func ParseLevel(name string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

var (
	std   = log.New(os.Stderr, "", log.LstdFlags)
	level atomic.Int32
)

func init() {
	level.Store(int32(LevelInfo))
}

// SetLevel discards messages below l. Errors are always written.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// SetOutput redirects all log output to w.
func SetOutput(w io.Writer) {
	std.SetOutput(w)
}

// LogErr logs the provided error (if non-nil) and returns it unchanged.
// It is meant to be used inline when propagating errors up the call stack.
func LogErr(err error) error {
	if err == nil {
		return nil
	}
	logErrorWithSkip(err, skipForPublicAPI)
	return err
}

// LogError logs a formatted error message and returns it as an error.
func LogError(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	logErrorWithSkip(err, skipForPublicAPI)
	return err
}

// LogErrorf logs a formatted error message.
func LogErrorf(format string, args ...interface{}) {
	err := fmt.Errorf(format, args...)
	logErrorWithSkip(err, skipForPublicAPI)
}

// Fatal logs the provided error (if non-nil) and terminates the process.
func Fatal(err error) {
	if err == nil {
		return
	}
	logErrorWithSkip(err, skipForPublicAPI)
	os.Exit(1)
}

// Error logs the provided error (if non-nil).
func Error(err error) {
	if err == nil {
		return
	}
	logErrorWithSkip(err, skipForPublicAPI)
}

// Warn logs a warning message.
func Warn(format string, args ...interface{}) {
	if !enabled(LevelWarn) {
		return
	}
	logWithSkip(LevelWarn, skipForPublicAPI, fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func Info(format string, args ...interface{}) {
	if !enabled(LevelInfo) {
		return
	}
	logWithSkip(LevelInfo, skipForPublicAPI, fmt.Sprintf(format, args...))
}

// Debug logs a message only when the level is set to LevelDebug.
func Debug(format string, args ...interface{}) {
	if !enabled(LevelDebug) {
		return
	}
	logWithSkip(LevelDebug, skipForPublicAPI, fmt.Sprintf(format, args...))
}

const skipForPublicAPI = 3

func enabled(l Level) bool {
	return int32(l) >= level.Load()
}

// logErrorWithSkip adds its own frame to skip.
func logErrorWithSkip(err error, skip int) {
	logWithSkip(LevelError, skip+1, err.Error())
}

func logWithSkip(l Level, skip int, message string) {
	pcs := make([]uintptr, 1)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		std.Printf("%s: %s", l, message)
		return
	}

	frame, _ := runtime.CallersFrames(pcs).Next()
	file := filepath.Base(frame.File)
	funcName := frame.Function
	if file == "" {
		file = "unknown"
	}
	if funcName == "" {
		funcName = "unknown"
	}

	std.Printf("%s:%s %s: %s", file, funcName, l, message)
}
