package authgate

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Audit event types.
const (
	AuditRefreshStarted    = "refresh_started"
	AuditRefreshSuccess    = "refresh_success"
	AuditRefreshFailure    = "refresh_failure"
	AuditSessionTerminated = "session_terminated"
	AuditLoginSuccess      = "login_success"
	AuditLoginFailure      = "login_failure"
	AuditLogout            = "logout"
	AuditSessionRestored   = "session_restored"
	AuditSessionAdopted    = "session_adopted"
)

// AuditEvent records one session lifecycle transition. Tokens are never included.
type AuditEvent struct {
	EventID   string            `json:"event_id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	Email     string            `json:"email,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the gateway's dispatcher goroutine.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink forwards events to a buffered channel.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// LogrusSink logs each event as a structured entry. Failed events log at warn level.
type LogrusSink struct {
	log *logrus.Entry
}

func NewLogrusSink(logger logrus.FieldLogger) *LogrusSink {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogrusSink{log: logger.WithField("component", "authgate.audit")}
}

func (s *LogrusSink) Emit(_ context.Context, event AuditEvent) {
	fields := logrus.Fields{
		"event_id":   event.EventID,
		"event_type": event.EventType,
		"success":    event.Success,
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Email != "" {
		fields["email"] = event.Email
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}
	entry := s.log.WithTime(event.Timestamp).WithFields(fields)
	if !event.Success {
		entry.WithField("error", event.Error).Warn("audit")
		return
	}
	entry.Info("audit")
}
