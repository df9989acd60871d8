package client

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/smnsjas/go-negotiate/auth"
)

// NIST SP 800-92 compliant event types
const (
	EventAuthentication = "authentication"
	EventConnection     = "connection"
)

// Security event subtypes
const (
	SubtypeAuthSuccess  = "success"
	SubtypeAuthFailure  = "failure"
	SubtypeAuthFallback = "fallback"
	SubtypeConnFailed   = "failed"
	SubtypeConnRejected = "rejected"
)

// Security event outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)

// Security event severities
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// SecurityEvent represents a structured security log event compliant with NIST SP 800-92.
type SecurityEvent struct {
	// NIST Required Fields
	Timestamp string `json:"timestamp"`  // ISO 8601 UTC
	EventType string `json:"event_type"` // authentication, connection
	Subtype   string `json:"subtype"`    // success, failure, fallback
	Severity  string `json:"severity"`   // INFO, WARNING, ERROR

	// Identity & Context
	User          string `json:"user,omitempty"`
	Source        string `json:"source"`         // "go-negotiate" client
	Target        string `json:"target"`         // SPN or host
	CorrelationID string `json:"correlation_id"` // Client-scoped UUID

	// Operation Details
	Action  string         `json:"action"`            // e.g., "Negotiate", "NTLM"
	Outcome string         `json:"outcome"`           // success, failure
	Details map[string]any `json:"details,omitempty"` // Context-specific details
}

// SecurityLogger is a helper to generate and write security events.
type SecurityLogger struct {
	logger        *slog.Logger
	user          string
	correlationID string
}

// NewSecurityLogger creates a new logger for a client.
// It generates a new CorrelationID (UUID) for this logger instance.
func NewSecurityLogger(logger *slog.Logger, user string) *SecurityLogger {
	return &SecurityLogger{
		logger:        logger,
		user:          user,
		correlationID: uuid.New().String(),
	}
}

// CorrelationID returns the identifier shared by all events of this logger.
func (l *SecurityLogger) CorrelationID() string {
	return l.correlationID
}

// LogEvent constructs and logs a security event.
func (l *SecurityLogger) LogEvent(eventType, subtype, severity, outcome, action, target string, details map[string]any) {
	if l == nil || l.logger == nil {
		return
	}
	if details == nil {
		details = make(map[string]any)
	}

	event := &SecurityEvent{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		EventType:     eventType,
		Subtype:       subtype,
		Severity:      severity,
		User:          l.user,
		Source:        "go-negotiate",
		Target:        target,
		CorrelationID: l.correlationID,
		Action:        action,
		Outcome:       outcome,
		Details:       details,
	}

	switch severity {
	case SeverityWarning:
		l.logger.Warn("SecurityEvent", "event", event)
	case SeverityError, SeverityCritical:
		l.logger.Error("SecurityEvent", "event", event)
	default:
		l.logger.Info("SecurityEvent", "event", event)
	}
}

// LogAuthentication logs one finished per-scheme negotiation.
func (l *SecurityLogger) LogAuthentication(ev auth.Event) {
	details := map[string]any{
		"rounds": ev.Rounds,
		"result": ev.Outcome,
	}
	if ev.Status != 0 {
		details["status"] = ev.Status
	}
	if ev.MutualToken {
		details["mutual_token"] = true
	}
	if ev.Err != nil {
		details["error"] = ev.Err.Error()
	}

	switch ev.Outcome {
	case auth.OutcomeComplete:
		l.LogEvent(EventAuthentication, SubtypeAuthSuccess, SeverityInfo, OutcomeSuccess,
			ev.Scheme.String(), ev.Target, details)
	case auth.OutcomeRejected:
		l.LogEvent(EventAuthentication, SubtypeAuthFailure, SeverityWarning, OutcomeDenied,
			ev.Scheme.String(), ev.Target, details)
	case auth.OutcomeUnavailable, auth.OutcomeContextFailed:
		l.LogEvent(EventAuthentication, SubtypeAuthFallback, SeverityWarning, OutcomeFailure,
			ev.Scheme.String(), ev.Target, details)
	default:
		l.LogEvent(EventAuthentication, SubtypeAuthFailure, SeverityError, OutcomeFailure,
			ev.Scheme.String(), ev.Target, details)
	}
}

// LogConnection logs connection-level failures.
func (l *SecurityLogger) LogConnection(subtype, outcome, severity, target string, details map[string]any) {
	l.LogEvent(EventConnection, subtype, severity, outcome, "request", target, details)
}

// String returns the JSON representation of the event
func (e *SecurityEvent) String() string {
	b, _ := json.Marshal(e)
	return string(b)
}
