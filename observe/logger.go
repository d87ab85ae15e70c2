package observe

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// LogLevel orders log severities from debug up to error.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = [...]string{"debug", "info", "warn", "error"}

// ParseLogLevel maps a level name to its LogLevel. Unknown names fall
// back to info.
func ParseLogLevel(s string) LogLevel {
	for i, name := range levelNames {
		if s == name {
			return LogLevel(i)
		}
	}
	return LevelInfo
}

func (l LogLevel) String() string {
	if l < LevelDebug || l > LevelError {
		return "info"
	}
	return levelNames[l]
}

// redactedKeys indexes RedactedFields for the per-record lookup.
var redactedKeys = func() map[string]bool {
	set := make(map[string]bool, len(RedactedFields))
	for _, key := range RedactedFields {
		set[key] = true
	}
	return set
}()

// jsonLogger writes one JSON object per record, line-delimited.
type jsonLogger struct {
	level  LogLevel
	writer io.Writer
	mu     sync.Mutex

	// query context attached by WithQuery, folded into every record
	attrs map[string]any
}

var _ Logger = (*jsonLogger)(nil)

// NewLogger creates a logger at the given level writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a logger at the given level writing to w.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &jsonLogger{
		level:  ParseLogLevel(level),
		writer: w,
		attrs:  make(map[string]any),
	}
}

// WithQuery returns a logger whose records carry the query identity.
// Empty meta fields are left out of the records.
func (l *jsonLogger) WithQuery(meta QueryMeta) Logger {
	attrs := make(map[string]any, len(l.attrs)+3)
	for k, v := range l.attrs {
		attrs[k] = v
	}

	attrs["query.path"] = meta.Path
	if meta.Op != "" {
		attrs["query.op"] = meta.Op
	}
	if meta.Kind != "" {
		attrs["query.kind"] = meta.Kind
	}

	return &jsonLogger{
		level:  l.level,
		writer: l.writer,
		attrs:  attrs,
	}
}

func (l *jsonLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelDebug, msg, fields)
}

func (l *jsonLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelInfo, msg, fields)
}

func (l *jsonLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelWarn, msg, fields)
}

func (l *jsonLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(LevelError, msg, fields)
}

func (l *jsonLogger) log(level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	record := make(map[string]any, len(l.attrs)+len(fields)+3)
	record["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	record["level"] = level.String()
	record["msg"] = msg

	for k, v := range l.attrs {
		record[k] = v
	}

	for _, f := range fields {
		if redactedKeys[f.Key] {
			record[f.Key] = "[REDACTED]"
		} else {
			record[f.Key] = f.Value
		}
	}

	data, err := json.Marshal(record)
	if err != nil {
		// An unmarshalable field value. Logging is best-effort; drop it.
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer.Write(data)
	l.writer.Write([]byte("\n"))
}
