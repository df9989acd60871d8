package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/smnsjas/go-negotiate/auth"
)

func TestSecurityLogger_LogAuthentication(t *testing.T) {
	tests := []struct {
		name     string
		ev       auth.Event
		level    string
		subtype  string
		outcome  string
		contains string
	}{
		{
			name:    "success",
			ev:      auth.Event{Scheme: auth.SchemeNegotiate, Outcome: auth.OutcomeComplete, Rounds: 1, Status: 200},
			level:   "INFO",
			subtype: SubtypeAuthSuccess,
			outcome: OutcomeSuccess,
		},
		{
			name:    "rejected",
			ev:      auth.Event{Scheme: auth.SchemeNTLM, Outcome: auth.OutcomeRejected, Rounds: 2, Status: 401},
			level:   "WARN",
			subtype: SubtypeAuthFailure,
			outcome: OutcomeDenied,
		},
		{
			name: "fallback",
			ev: auth.Event{Scheme: auth.SchemeNegotiate, Outcome: auth.OutcomeUnavailable,
				Err: &auth.AuthError{Err: auth.ErrCredentialsUnavailable}},
			level:    "WARN",
			subtype:  SubtypeAuthFallback,
			outcome:  OutcomeFailure,
			contains: "credentials unavailable",
		},
		{
			name:    "hard failure",
			ev:      auth.Event{Scheme: auth.SchemeNegotiate, Outcome: auth.OutcomeMaxRounds, Err: errors.New("loop")},
			level:   "ERROR",
			subtype: SubtypeAuthFailure,
			outcome: OutcomeFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewSecurityLogger(slog.New(slog.NewJSONHandler(&buf, nil)), `CORP\alice`)
			l.LogAuthentication(tt.ev)

			var rec struct {
				Level string        `json:"level"`
				Event SecurityEvent `json:"event"`
			}
			if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
				t.Fatalf("unmarshal log: %v (%s)", err, buf.String())
			}
			if rec.Level != tt.level {
				t.Errorf("level = %s; want %s", rec.Level, tt.level)
			}
			if rec.Event.Subtype != tt.subtype || rec.Event.Outcome != tt.outcome {
				t.Errorf("subtype/outcome = %s/%s; want %s/%s", rec.Event.Subtype, rec.Event.Outcome, tt.subtype, tt.outcome)
			}
			if rec.Event.Action != tt.ev.Scheme.String() {
				t.Errorf("action = %s; want %s", rec.Event.Action, tt.ev.Scheme)
			}
			if rec.Event.CorrelationID != l.CorrelationID() {
				t.Error("correlation ID mismatch")
			}
			if rec.Event.User != `CORP\alice` {
				t.Errorf("user = %q", rec.Event.User)
			}
			if tt.contains != "" && !strings.Contains(buf.String(), tt.contains) {
				t.Errorf("log %s does not contain %q", buf.String(), tt.contains)
			}
		})
	}
}

func TestSecurityLogger_NilSafe(t *testing.T) {
	var l *SecurityLogger
	l.LogEvent(EventConnection, SubtypeConnFailed, SeverityError, OutcomeFailure, "request", "srv", nil)
	NewSecurityLogger(nil, "").LogConnection(SubtypeConnFailed, OutcomeFailure, SeverityError, "srv", nil)
}

func TestSecurityEvent_String(t *testing.T) {
	ev := &SecurityEvent{EventType: EventConnection, Outcome: OutcomeDenied}
	s := ev.String()
	if !strings.Contains(s, `"event_type":"connection"`) || !strings.Contains(s, `"outcome":"denied"`) {
		t.Errorf("String() = %s", s)
	}
}
