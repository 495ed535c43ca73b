// Package audit logs security-relevant request events in structured JSON for
// SIEM consumption. It is separate from the editorial audit ledger, which is
// persisted in press_audit_log.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-press/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when libinjection flags request input.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventInputRejected is logged when request input fails validation.
	EventInputRejected SecurityEventType = "input_rejected"
)

// SecurityEvent is one auditable request event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	Endpoint  string            `json:"endpoint"`
	ClientIP  string            `json:"client_ip,omitempty"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// InjectionDetails describes a flagged input value.
type InjectionDetails struct {
	ParamName   string `json:"param_name"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"`
}

// SecurityAuditor logs security events under the "security_audit" logger name.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates a new security auditor.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records input that libinjection flagged.
// Logged at ERROR with "critical" severity so alerting picks it up.
func (a *SecurityAuditor) LogInjectionAttempt(ctx context.Context, endpoint string, details InjectionDetails, clientIP string) {
	details.ParamValue = logging.SanitizeSearchTerm(details.ParamValue)
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventSQLInjectionAttempt,
		Endpoint:  endpoint,
		ClientIP:  clientIP,
		Details:   details,
		Severity:  "critical",
	}

	// Marshaling known types cannot fail.
	eventJSON, _ := json.Marshal(event)

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", string(eventJSON)),
		zap.String("endpoint", endpoint),
		zap.String("param_name", details.ParamName),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("client_ip", clientIP),
		zap.String("severity", "critical"),
	)
}

// LogInputRejected records a validation failure at WARN level. These are
// usually client bugs rather than attacks.
func (a *SecurityAuditor) LogInputRejected(ctx context.Context, endpoint, errorMessage, clientIP string) {
	event := SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventInputRejected,
		Endpoint:  endpoint,
		ClientIP:  clientIP,
		Details: map[string]string{
			"error": errorMessage,
		},
		Severity: "warning",
	}

	eventJSON, _ := json.Marshal(event)

	a.logger.Warn("Request input rejected",
		zap.String("event_json", string(eventJSON)),
		zap.String("endpoint", endpoint),
		zap.String("error", errorMessage),
		zap.String("client_ip", clientIP),
		zap.String("severity", "warning"),
	)
}
