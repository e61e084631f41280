package testutil

import (
	"context"
	"log/slog"
	"sync"
)

// TestLogger captures slog records so tests can assert on emitted log lines
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

// LogEntry is one captured record with its attributes flattened
type LogEntry struct {
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Logger returns a *slog.Logger that writes to this TestLogger
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&captureHandler{sink: l})
}

// GetEntriesByMessage returns entries whose message equals msg
func (l *TestLogger) GetEntriesByMessage(msg string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []LogEntry
	for _, e := range l.entries {
		if e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

func (l *TestLogger) HasError() bool   { return l.hasLevel(slog.LevelError) }
func (l *TestLogger) HasWarning() bool { return l.hasLevel(slog.LevelWarn) }

func (l *TestLogger) hasLevel(level slog.Level) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.Level == level {
			return true
		}
	}
	return false
}

func (l *TestLogger) append(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// captureHandler is the slog.Handler behind TestLogger.Logger.
// Groups are flattened; no component logs with groups.
type captureHandler struct {
	sink  *TestLogger
	attrs []slog.Attr
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[a.Key] = a.Value.Any()
		return true
	})

	h.sink.append(LogEntry{Level: r.Level, Message: r.Message, Fields: fields})
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{sink: h.sink, attrs: append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...)}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }
