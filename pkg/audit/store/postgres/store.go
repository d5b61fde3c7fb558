// Package postgres persists audit entries in an append-only table. The
// schema (migrations/0001_audit_log.sql) attaches triggers that reject
// UPDATE and DELETE, so immutability is enforced by the store itself, not
// just by this code having no mutation path.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"phiguard/pkg/audit"
)

// Store implements audit.Store over PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts one audit entry. There is no corresponding update or
// delete; the table triggers reject both.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	query := `
		INSERT INTO audit_log (
			id, event_type, user_id, user_role, patient_id,
			resource_type, resource_id, action, phi_accessed, phi_fields,
			ip_address, request_id, correlation_id, outcome, event_time,
			retain_until, compensates_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		string(entry.EventType),
		nullable(entry.UserID),
		nullable(entry.UserRole),
		nullable(entry.PatientID),
		entry.ResourceType,
		nullable(entry.ResourceID),
		entry.Action,
		entry.PHIAccessed,
		pq.Array(entry.PHIFields),
		nullable(entry.IPAddress),
		entry.RequestID,
		nullable(entry.CorrelationID),
		string(entry.Outcome),
		entry.EventTime,
		entry.RetainUntil,
		entry.CompensatesID,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// QueryByPatient returns entries for a patient within the query window,
// newest first.
func (s *Store) QueryByPatient(ctx context.Context, patientID string, q audit.Query) ([]audit.Entry, error) {
	return s.query(ctx, "patient_id", patientID, q)
}

// QueryByUser returns entries recording a user's accesses, newest first.
func (s *Store) QueryByUser(ctx context.Context, userID string, q audit.Query) ([]audit.Entry, error) {
	return s.query(ctx, "user_id", userID, q)
}

func (s *Store) query(ctx context.Context, column, value string, q audit.Query) ([]audit.Entry, error) {
	query := fmt.Sprintf(`
		SELECT id, event_type, user_id, user_role, patient_id,
		       resource_type, resource_id, action, phi_accessed, phi_fields,
		       ip_address, request_id, correlation_id, outcome, event_time,
		       retain_until, compensates_id
		FROM audit_log
		WHERE %s = $1
		  AND ($2::timestamptz IS NULL OR event_time >= $2)
		  AND ($3::timestamptz IS NULL OR event_time <= $3)
		  AND ($4::text[] IS NULL OR event_type = ANY($4))
		ORDER BY event_time DESC
		LIMIT $5
	`, column)

	var start, end any
	if !q.Start.IsZero() {
		start = q.Start
	}
	if !q.End.IsZero() {
		end = q.End
	}
	var eventTypes any
	if len(q.EventTypes) > 0 {
		types := make([]string, len(q.EventTypes))
		for i, t := range q.EventTypes {
			types[i] = string(t)
		}
		eventTypes = pq.Array(types)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, query, value, start, end, eventTypes, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			e             audit.Entry
			userID        sql.NullString
			userRole      sql.NullString
			patientID     sql.NullString
			resourceID    sql.NullString
			ipAddress     sql.NullString
			correlationID sql.NullString
			eventType     string
			outcome       string
			phiFields     pq.StringArray
			compensatesID uuid.NullUUID
		)
		err := rows.Scan(
			&e.ID, &eventType, &userID, &userRole, &patientID,
			&e.ResourceType, &resourceID, &e.Action, &e.PHIAccessed, &phiFields,
			&ipAddress, &e.RequestID, &correlationID, &outcome, &e.EventTime,
			&e.RetainUntil, &compensatesID,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.EventType = audit.EventType(eventType)
		e.Outcome = audit.Outcome(outcome)
		e.UserID = userID.String
		e.UserRole = userRole.String
		e.PatientID = patientID.String
		e.ResourceID = resourceID.String
		e.IPAddress = ipAddress.String
		e.CorrelationID = correlationID.String
		e.PHIFields = []string(phiFields)
		if compensatesID.Valid {
			id := compensatesID.UUID
			e.CompensatesID = &id
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
