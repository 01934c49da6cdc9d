package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Logger writes leveled events to the terminal and, once enabled, to a JSONL
// file. Credential-like fields are redacted before either sees them.
type Logger struct {
	debug       atomic.Bool
	terminalOut atomic.Bool

	mu     sync.RWMutex
	out    io.Writer
	styles *eventStyles
	sink   *fileSink
}

type Event struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func New(debug bool) *Logger {
	logger := &Logger{}
	logger.debug.Store(debug)
	logger.terminalOut.Store(true)
	logger.setOutputLocked(os.Stderr)
	return logger
}

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// SetOutput redirects terminal output. Styling follows what w supports, so
// buffers and pipes get plain lines.
func (l *Logger) SetOutput(w io.Writer) {
	if l == nil || w == nil {
		return
	}
	l.mu.Lock()
	l.setOutputLocked(w)
	l.mu.Unlock()
}

func (l *Logger) setOutputLocked(w io.Writer) {
	l.out = w
	l.styles = newEventStyles(w)
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.terminalOut.Store(enabled)
}

// EnableFilePersistence starts writing every event, debug included, to a
// rotating JSONL file under DefaultLogDirPath.
func (l *Logger) EnableFilePersistence(maxBytes int64) error {
	if l == nil {
		return nil
	}
	dir, err := DefaultLogDirPath()
	if err != nil {
		return err
	}
	sink, err := openFileSink(dir, maxBytes, defaultLogFileKeep)
	if err != nil {
		return err
	}
	l.mu.Lock()
	old := l.sink
	l.sink = sink
	l.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	sink := l.sink
	l.sink = nil
	l.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

func (l *Logger) Debugf(format string, args ...any) {
	l.Debug(fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	l.log(slog.LevelDebug, msg, fields)
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	l.log(slog.LevelInfo, msg, fields)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	l.log(slog.LevelWarn, msg, fields)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	l.log(slog.LevelError, msg, fields)
}

func (l *Logger) log(level slog.Level, msg string, attrs []slog.Attr) {
	if l == nil {
		return
	}
	event := Event{
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  fieldsFromAttrs(attrs),
	}

	l.mu.RLock()
	sink, out, styles := l.sink, l.out, l.styles
	l.mu.RUnlock()

	if sink != nil {
		_ = sink.WriteEvent(event)
	}
	// Debug events still reach the file when the terminal hides them.
	if level == slog.LevelDebug && !l.debug.Load() {
		return
	}
	if !l.terminalOut.Load() {
		return
	}
	if styles != nil {
		_, _ = io.WriteString(out, styles.render(event))
		return
	}
	_, _ = io.WriteString(out, formatLine(event))
}

func fieldsFromAttrs(attrs []slog.Attr) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	fields := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if attr.Key == "" {
			continue
		}
		fields[attr.Key] = redactField(attr.Key, attrValue(attr.Value))
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func attrValue(value slog.Value) any {
	value = value.Resolve()
	if value.Kind() != slog.KindGroup {
		return value.Any()
	}
	group := map[string]any{}
	for _, attr := range value.Group() {
		if attr.Key != "" {
			group[attr.Key] = redactField(attr.Key, attrValue(attr.Value))
		}
	}
	return group
}
