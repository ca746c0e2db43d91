package common

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultLogHistory = 1000

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	sink       = newLogSink(defaultLogHistory)
)

// LogEntry is a captured record emitted through the shared logger.
type LogEntry struct {
	Time       time.Time              `json:"time"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component,omitempty"`
	Audit      bool                   `json:"audit,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// LogFilter narrows the captured history returned by LogEntries.
type LogFilter struct {
	Component string
	AuditOnly bool
	Limit     int
}

// Logger returns the process-wide slog logger. FIELDQ_LOG_LEVEL (or LOG_LEVEL)
// selects the level and FIELDQ_LOG_FORMAT=json switches to the JSON handler.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = slog.New(&capturingHandler{handler: newBaseHandler(os.Stdout), sink: sink})
	})
	return logger
}

func newBaseHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{Level: levelFromEnv()}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("FIELDQ_LOG_FORMAT")), "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

func levelFromEnv() slog.Level {
	raw := strings.TrimSpace(os.Getenv("FIELDQ_LOG_LEVEL"))
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	}
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogEntries returns a copy of the captured history, newest last.
func LogEntries(filter LogFilter) []LogEntry {
	if sink == nil {
		return nil
	}
	all := sink.entries()
	component := strings.ToLower(strings.TrimSpace(filter.Component))
	out := make([]LogEntry, 0, len(all))
	for _, entry := range all {
		if filter.AuditOnly && !entry.Audit {
			continue
		}
		if component != "" && strings.ToLower(entry.Component) != component {
			continue
		}
		out = append(out, entry)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out
}

type capturingHandler struct {
	handler slog.Handler
	sink    *logSink
	attrs   []slog.Attr
}

func (h *capturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *capturingHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.handler.Handle(ctx, record)
	if h.sink != nil {
		h.sink.capture(record, h.attrs)
	}
	return err
}

func (h *capturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &capturingHandler{handler: h.handler.WithAttrs(attrs), sink: h.sink, attrs: merged}
}

func (h *capturingHandler) WithGroup(name string) slog.Handler {
	return &capturingHandler{handler: h.handler.WithGroup(name), sink: h.sink, attrs: h.attrs}
}

type logSink struct {
	mu      sync.RWMutex
	max     int
	history []LogEntry
}

func newLogSink(max int) *logSink {
	if max <= 0 {
		max = defaultLogHistory
	}
	return &logSink{max: max}
}

func (s *logSink) capture(record slog.Record, inherited []slog.Attr) {
	entry := buildLogEntry(record, inherited)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	if len(s.history) > s.max {
		s.history = s.history[len(s.history)-s.max:]
	}
}

func (s *logSink) entries() []LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.history) == 0 {
		return nil
	}
	out := make([]LogEntry, len(s.history))
	copy(out, s.history)
	return out
}

func buildLogEntry(record slog.Record, inherited []slog.Attr) LogEntry {
	entry := LogEntry{
		Time:    record.Time,
		Level:   strings.ToLower(record.Level.String()),
		Message: record.Message,
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	entry.Time = entry.Time.UTC()

	var attrs map[string]interface{}
	apply := func(a slog.Attr) bool {
		value := valueToAny(a.Value)
		switch a.Key {
		case "component":
			entry.Component = strings.TrimSpace(valueString(value))
			return true
		case "audit":
			if flag, ok := value.(bool); ok {
				entry.Audit = flag
			}
			return true
		case "request_id":
			entry.RequestID = valueString(value)
			return true
		}
		if attrs == nil {
			attrs = make(map[string]interface{})
		}
		attrs[a.Key] = value
		return true
	}
	for _, a := range inherited {
		apply(a)
	}
	record.Attrs(apply)

	if entry.Component == "" {
		if idx := strings.Index(entry.Message, ":"); idx > 0 {
			entry.Component = strings.TrimSpace(entry.Message[:idx])
		}
	}
	if len(attrs) > 0 {
		entry.Attributes = attrs
	}
	return entry
}

func valueToAny(v slog.Value) interface{} {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return v.Bool()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.String()
	}
}

func valueString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
