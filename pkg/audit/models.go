// Package audit produces the immutable, long-retention trail of every PHI
// access. Entries are append-only: no code path updates or deletes one, and
// corrections are made by inserting a compensating entry that references
// the original.
package audit

import (
	"time"

	"github.com/google/uuid"

	domainerrors "phiguard/pkg/domain-errors"
)

// RetentionDays is the minimum retention for audit entries (7 years, HIPAA).
const RetentionDays = 2555

// EventType classifies what kind of access an entry records.
type EventType string

const (
	EventPHIAccess    EventType = "PHI_ACCESS"
	EventPHIWrite     EventType = "PHI_WRITE"
	EventPHIExport    EventType = "PHI_EXPORT"
	EventAuthFailure  EventType = "AUTH_FAILURE"
	EventAdminAction  EventType = "ADMIN_ACTION"
	EventCompensation EventType = "COMPENSATION"
)

// Outcome records how the access concluded.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeDenied  Outcome = "DENIED"
	OutcomeError   Outcome = "ERROR"
)

// IsValid checks if the outcome is one of the supported enum values.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeDenied, OutcomeError:
		return true
	}
	return false
}

// Entry is one audit record. Created exactly once per access and never
// mutated afterwards. CompensatesID links a correction to the entry it
// amends.
type Entry struct {
	ID            uuid.UUID
	EventType     EventType
	UserID        string
	UserRole      string
	PatientID     string
	ResourceType  string
	ResourceID    string
	Action        string
	PHIAccessed   bool
	PHIFields     []string
	IPAddress     string
	RequestID     string
	CorrelationID string
	Outcome       Outcome
	EventTime     time.Time
	RetainUntil   time.Time
	CompensatesID *uuid.UUID
}

// Validate enforces the entry invariants. A PHI-accessed entry missing
// userId, resourceType, action, or requestId is a caller programming
// error, not a recoverable condition.
func (e *Entry) Validate() error {
	if e.EventType == "" {
		return domainerrors.New(domainerrors.CodeInvalidInput, "audit entry requires eventType")
	}
	if !e.Outcome.IsValid() {
		return domainerrors.New(domainerrors.CodeInvalidInput, "audit entry requires a valid outcome")
	}
	if e.PHIAccessed {
		switch {
		case e.UserID == "":
			return domainerrors.New(domainerrors.CodeInvalidInput, "PHI audit entry requires userId")
		case e.ResourceType == "":
			return domainerrors.New(domainerrors.CodeInvalidInput, "PHI audit entry requires resourceType")
		case e.Action == "":
			return domainerrors.New(domainerrors.CodeInvalidInput, "PHI audit entry requires action")
		case e.RequestID == "":
			return domainerrors.New(domainerrors.CodeInvalidInput, "PHI audit entry requires requestId")
		}
	}
	return nil
}

// Query filters disclosure-accounting lookups.
type Query struct {
	Start      time.Time
	End        time.Time
	EventTypes []EventType
	Limit      int
}

// Matches reports whether an entry satisfies the query filters. Shared by
// the in-memory store and tests; the SQL store expresses the same
// conditions in its WHERE clause.
func (q Query) Matches(e Entry) bool {
	if !q.Start.IsZero() && e.EventTime.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && e.EventTime.After(q.End) {
		return false
	}
	if len(q.EventTypes) > 0 {
		found := false
		for _, t := range q.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
