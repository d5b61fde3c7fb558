// Package security provides severity-tagged security event intake, alert
// routing, and near-real-time detection of abusive access patterns (brute
// force, high-frequency PHI access). Events here drive alerting; the
// compliance record of an access lives in pkg/audit.
package security

import "time"

// Severity ranks a security event for alert routing.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// EventType identifies the kind of security event.
type EventType string

const (
	EventAuthFailure         EventType = "AUTH_FAILURE"
	EventBruteForceDetected  EventType = "BRUTE_FORCE_DETECTED"
	EventHighFrequencyAccess EventType = "HIGH_FREQUENCY_ACCESS"
	EventRateLimitExceeded   EventType = "RATE_LIMIT_EXCEEDED"
	EventPHIAccessDenied     EventType = "PHI_ACCESS_DENIED"
	EventKeyRotated          EventType = "KEY_ROTATED"
)

// Event is one security observation. Ephemeral relative to audit entries:
// it exists for alerting and SIEM fan-out, not compliance record-keeping.
type Event struct {
	Type      EventType
	Severity  Severity
	Timestamp time.Time
	UserID    string
	IPAddress string
	Resource  string
	Details   map[string]string
}
