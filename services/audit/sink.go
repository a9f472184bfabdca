// Package audit records security-relevant events. Sinks are fire-and-forget:
// Record never blocks the request path and never returns an error.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
)

type EventType string

const (
	EventLoginSucceeded      EventType = "login_succeeded"
	EventLoginFailed         EventType = "login_failed"
	EventLogout              EventType = "logout"
	EventRefreshRotated      EventType = "refresh_rotated"
	EventRefreshReuse        EventType = "refresh_reuse_detected"
	EventCascadeRevocation   EventType = "cascade_revocation"
	EventRefreshIPChanged    EventType = "refresh_ip_changed"
	EventRefreshUAChanged    EventType = "refresh_user_agent_changed"
	EventRefreshHighFreq     EventType = "refresh_high_frequency"
	EventRefreshSuspicious   EventType = "refresh_suspicious"
	EventCSRFFailed          EventType = "csrf_validation_failed"
	EventOAuthLogin          EventType = "oauth_login"
	EventOAuthLinked         EventType = "oauth_identity_linked"
	EventOAuthFailed         EventType = "oauth_callback_failed"
	EventAuthCodeIssued      EventType = "authorization_code_issued"
	EventAuthCodeExchanged   EventType = "authorization_code_exchanged"
	EventAuthCodeRejected    EventType = "authorization_code_rejected"
	EventSessionLimitReached EventType = "session_limit_reached"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Severity   Severity       `json:"severity"`
	UserID     uint           `json:"user_id,omitempty"`
	SessionID  uint           `json:"session_id,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Sink interface {
	Record(ctx context.Context, event Event)
}

func stamp(e Event) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	return e
}

type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}

// LogSink writes events to the structured log under the "audit" logger.
type LogSink struct {
	logger *logging.Service
}

func NewLogSink(logger *logging.Service) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Record(_ context.Context, e Event) {
	e = stamp(e)

	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("event", string(e.Type)),
		zap.String("severity", string(e.Severity)),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.UserID != 0 {
		fields = append(fields, zap.Uint("user_id", e.UserID))
	}
	if e.SessionID != 0 {
		fields = append(fields, zap.Uint("session_id", e.SessionID))
	}
	if e.IPAddress != "" {
		fields = append(fields, zap.String("ip", e.IPAddress))
	}
	if e.UserAgent != "" {
		fields = append(fields, zap.String("user_agent", e.UserAgent))
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}

	switch e.Severity {
	case SeverityCritical:
		s.logger.Error("audit event", fields...)
	case SeverityWarning:
		s.logger.Warn("audit event", fields...)
	default:
		s.logger.Info("audit event", fields...)
	}
}

// MemorySink keeps events in memory. It is used by tests and by the
// development server's diagnostics.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Record(_ context.Context, e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, stamp(e))
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemorySink) Count(t EventType) int {
	n := 0
	for _, e := range s.Events() {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Fanout records each event to every sink in order.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Record(ctx context.Context, e Event) {
	e = stamp(e)
	for _, s := range f.sinks {
		s.Record(ctx, e)
	}
}
