package observe

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Logger is a minimal structured logging interface.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: logging must be best-effort and must not panic.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)

	// With returns a logger that adds fields to every entry.
	With(fields ...Field) Logger
}

// Field represents a structured log field.
type Field struct {
	Key   string
	Value any
}

// LogLevel represents a logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLogLevel parses a string log level. Unknown values map to info.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// structuredLogger writes one JSON object per line. stream names the
// destination for sinks that split output; With sets it from a "job" field.
type structuredLogger struct {
	level  LogLevel
	out    sink
	stream string
	fields []Field
}

// sink receives encoded log lines.
type sink interface {
	write(stream string, line []byte)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) write(_ string, line []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, _ = w.w.Write(line)
}

// fileSink appends each stream to its own daily file and rolls every file
// over when the UTC day changes.
type fileSink struct {
	dir      string
	now      func() time.Time
	fallback io.Writer

	mu    sync.Mutex
	day   string
	files map[string]*os.File
}

func newFileSink(dir string, now func() time.Time) (*fileSink, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileSink{dir: dir, now: now, fallback: os.Stderr, files: make(map[string]*os.File)}, nil
}

// fileLocked returns the open file for stream, rolling over on a new day.
func (s *fileSink) fileLocked(stream string) (*os.File, error) {
	now := s.now().UTC()
	if day := now.Format(time.DateOnly); day != s.day {
		s.closeLocked()
		s.day = day
	}
	if f, ok := s.files[stream]; ok {
		return f, nil
	}
	f, err := os.OpenFile(filepath.Join(s.dir, LogFileName(stream, now)), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s.files[stream] = f
	return f, nil
}

func (s *fileSink) write(stream string, line []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.fileLocked(stream)
	if err != nil {
		_, _ = s.fallback.Write(line)
		return
	}
	_, _ = f.Write(line)
}

func (s *fileSink) closeLocked() error {
	var first error
	for name, f := range s.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.files, name)
	}
	return first
}

// Close closes every open log file.
func (s *fileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// NewLogger creates a structured logger writing to stderr.
func NewLogger(level string) Logger {
	return NewLoggerWithWriter(level, os.Stderr)
}

// NewLoggerWithWriter creates a structured logger with a custom writer.
func NewLoggerWithWriter(level string, w io.Writer) Logger {
	return &structuredLogger{
		level: ParseLogLevel(level),
		out:   &lockedWriter{w: w},
	}
}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return noopLogger{}
}

// OpenLogger builds the logger selected by cfg.Mode.
//
// File mode appends to <Dir>/restcache-<stream>-<YYYY-MM-DD>.log. The stream
// is name until a "job" field is attached with With, so each job gets its
// own file per day. It falls back to stderr when the file cannot be opened.
// The returned closer may be nil.
func OpenLogger(cfg LoggingConfig, name string) (Logger, io.Closer) {
	return openLogger(cfg, name, time.Now)
}

func openLogger(cfg LoggingConfig, name string, now func() time.Time) (Logger, io.Closer) {
	switch cfg.Mode {
	case LogModeOff:
		return NopLogger(), nil
	case LogModeFile:
		fs, err := newFileSink(cfg.Dir, now)
		if err == nil {
			fs.mu.Lock()
			_, err = fs.fileLocked(name)
			fs.mu.Unlock()
		}
		if err != nil {
			l := NewLogger(cfg.Level)
			l.Warn(context.Background(), "log file unavailable, logging to stderr",
				Field{Key: "error", Value: err.Error()})
			return l, nil
		}
		return &structuredLogger{level: ParseLogLevel(cfg.Level), out: fs, stream: name}, fs
	default:
		return NewLogger(cfg.Level), nil
	}
}

var logNameSanitizer = regexp.MustCompile(`[^a-z0-9]`)

// LogFileName returns the daily log file name for a handler.
func LogFileName(name string, day time.Time) string {
	slug := logNameSanitizer.ReplaceAllString(strings.ToLower(name), "-")
	return "restcache-" + slug + "-" + day.Format("2006-01-02") + ".log"
}

func (l *structuredLogger) With(fields ...Field) Logger {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)
	merged = append(merged, fields...)
	stream := l.stream
	for _, f := range fields {
		if name, ok := f.Value.(string); ok && f.Key == "job" && name != "" {
			stream = name
		}
	}
	return &structuredLogger{level: l.level, out: l.out, stream: stream, fields: merged}
}

func (l *structuredLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelDebug, msg, fields)
}

func (l *structuredLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelInfo, msg, fields)
}

func (l *structuredLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelWarn, msg, fields)
}

func (l *structuredLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, LevelError, msg, fields)
}

func (l *structuredLogger) log(ctx context.Context, level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}

	entry := make(map[string]any, len(l.fields)+len(fields)+4)
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["msg"] = strings.TrimSpace(msg)

	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			entry["trace_id"] = sc.TraceID().String()
		}
	}

	for _, f := range l.fields {
		entry[f.Key] = redact(f)
	}
	for _, f := range fields {
		entry[f.Key] = redact(f)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	l.out.write(l.stream, data)
}

func redact(f Field) any {
	if isRedactedField(f.Key) {
		return "[REDACTED]"
	}
	if err, ok := f.Value.(error); ok && err != nil {
		return err.Error()
	}
	return f.Value
}

func isRedactedField(key string) bool {
	for _, k := range RedactedFields {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

type noopLogger struct{}

func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}
func (n noopLogger) With(...Field) Logger                  { return n }

var (
	_ Logger = (*structuredLogger)(nil)
	_ Logger = noopLogger{}
)
