package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Level orders log severities; messages below the active level are dropped.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	// INFO_EMOJI Emoji constants
	INFO_EMOJI    = "ℹ️ "
	SUCCESS_EMOJI = "✅ "
	WARN_EMOJI    = "⚠️ "
	ERROR_EMOJI   = "❌ "
	DEBUG_EMOJI   = "🔍 "
)

var (
	outputMu sync.Mutex
	output   io.Writer = color.Output
	level              = ParseLevel(os.Getenv("LOG_LEVEL"))
)

type Logger struct {
	serviceName string
	fields      string
}

func New(serviceName string) *Logger {
	return &Logger{
		serviceName: serviceName,
	}
}

// SetOutput redirects every logger. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

// SetLevel changes the process-wide threshold.
func SetLevel(l Level) {
	outputMu.Lock()
	defer outputMu.Unlock()
	level = l
}

// ParseLevel maps LOG_LEVEL values; unknown values mean info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// With returns a copy that appends key=value pairs to every line.
func (l *Logger) With(key string, value interface{}) *Logger {
	pair := fmt.Sprintf("%s=%v", key, value)
	fields := pair
	if l.fields != "" {
		fields = l.fields + " " + pair
	}
	return &Logger{serviceName: l.serviceName, fields: fields}
}

func (l *Logger) formatMessage(level, emoji, msg string) string {
	_, file, line, _ := runtime.Caller(3)
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fileName := filepath.Base(file)

	if l.fields != "" {
		msg = msg + " | " + l.fields
	}

	return fmt.Sprintf("%s | %s | %s | %s:%d | %s | %s",
		emoji,
		timestamp,
		level,
		fileName,
		line,
		l.serviceName,
		msg,
	)
}

func (l *Logger) write(min Level, attr color.Attribute, name, emoji, msg string) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if min < level {
		return
	}
	formatted := l.formatMessage(name, emoji, msg)
	_, _ = color.New(attr).Fprintln(output, formatted)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	l.write(LevelInfo, color.FgCyan, "INFO", INFO_EMOJI, fmt.Sprintf(msg, args...))
}

func (l *Logger) Success(msg string, args ...interface{}) {
	l.write(LevelInfo, color.FgGreen, "SUCCESS", SUCCESS_EMOJI, fmt.Sprintf(msg, args...))
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	l.write(LevelWarn, color.FgYellow, "WARN", WARN_EMOJI, fmt.Sprintf(msg, args...))
}

// Error logs msg with err appended and returns msg wrapping err, so call
// sites can log and return in one line. A nil err logs msg alone.
func (l *Logger) Error(msg string, err error, args ...interface{}) error {
	text := fmt.Sprintf(msg, args...)
	if err == nil {
		l.write(LevelError, color.FgRed, "ERROR", ERROR_EMOJI, text)
		return fmt.Errorf("%s", text)
	}
	l.write(LevelError, color.FgRed, "ERROR", ERROR_EMOJI, text+": "+err.Error())
	return fmt.Errorf("%s: %w", text, err)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	l.write(LevelDebug, color.FgMagenta, "DEBUG", DEBUG_EMOJI, fmt.Sprintf(msg, args...))
}
