package worker

import (
	"context"
	"log/slog"
	"sync"
)

type logRecord struct {
	level   slog.Level
	message string
	attrs   map[string]any
}

// testLogger collects dispatcher log records, including attributes bound
// with Logger.With, so tests can assert on the side channel.
type testLogger struct {
	mu      sync.Mutex
	records []logRecord
}

func newTestLogger() *testLogger {
	return &testLogger{}
}

func (l *testLogger) handler() slog.Handler {
	return &recordingHandler{logger: l}
}

func (l *testLogger) getRecords() []logRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]logRecord(nil), l.records...)
}

func (l *testLogger) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = nil
}

func (l *testLogger) find(match func(logRecord) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if match(r) {
			return true
		}
	}
	return false
}

func (l *testLogger) hasMessage(msg string) bool {
	return l.find(func(r logRecord) bool { return r.message == msg })
}

func (l *testLogger) hasAttr(key string, value any) bool {
	return l.find(func(r logRecord) bool {
		v, ok := r.attrs[key]
		return ok && v == value
	})
}

func (l *testLogger) hasError() bool {
	return l.find(func(r logRecord) bool { return r.level == slog.LevelError })
}

type recordingHandler struct {
	logger *testLogger
	bound  []slog.Attr
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, record slog.Record) error {
	attrs := make(map[string]any, len(h.bound)+record.NumAttrs())
	for _, a := range h.bound {
		attrs[a.Key] = a.Value.Any()
	}
	record.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.logger.mu.Lock()
	defer h.logger.mu.Unlock()
	h.logger.records = append(h.logger.records, logRecord{
		level:   record.Level,
		message: record.Message,
		attrs:   attrs,
	})
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := append(append([]slog.Attr(nil), h.bound...), attrs...)
	return &recordingHandler{logger: h.logger, bound: bound}
}

// groups are not used by the dispatcher
func (h *recordingHandler) WithGroup(string) slog.Handler { return h }
