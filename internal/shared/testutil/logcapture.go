package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// LogRecord represents a captured log record for testing
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogCapture is a slog.Handler that keeps every record in memory
type LogCapture struct {
	mu      *sync.Mutex
	records *[]LogRecord
	attrs   []slog.Attr
}

// NewTestLogger returns a logger backed by a fresh LogCapture
func NewTestLogger() (*slog.Logger, *LogCapture) {
	h := &LogCapture{mu: &sync.Mutex{}, records: &[]LogRecord{}}
	return slog.New(h), h
}

// Enabled implements slog.Handler; every level is captured
func (h *LogCapture) Enabled(context.Context, slog.Level) bool { return true }

// Handle implements slog.Handler
func (h *LogCapture) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, LogRecord{Level: r.Level, Message: r.Message, Attrs: attrs})
	return nil
}

// WithAttrs implements slog.Handler. Derived handlers share the record buffer.
func (h *LogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogCapture{
		mu:      h.mu,
		records: h.records,
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

// WithGroup implements slog.Handler. Groups are flattened.
func (h *LogCapture) WithGroup(string) slog.Handler { return h }

// Records returns a copy of the captured records
func (h *LogCapture) Records() []LogRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]LogRecord(nil), *h.records...)
}

// Find returns the first record at level whose message contains message
func (h *LogCapture) Find(level slog.Level, message string) (LogRecord, bool) {
	for _, r := range h.Records() {
		if r.Level == level && strings.Contains(r.Message, message) {
			return r, true
		}
	}
	return LogRecord{}, false
}

// ContainsText reports whether any message or string attribute contains s
func (h *LogCapture) ContainsText(s string) bool {
	for _, r := range h.Records() {
		if strings.Contains(r.Message, s) {
			return true
		}
		for _, v := range r.Attrs {
			if str, ok := v.(string); ok && strings.Contains(str, s) {
				return true
			}
		}
	}
	return false
}
