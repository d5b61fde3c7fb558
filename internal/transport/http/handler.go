// Package httptransport exposes the read-only audit query API backing the
// "accounting of disclosures" use case. It delegates to the audit service
// without embedding business logic; there is deliberately no write
// endpoint.
package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"phiguard/pkg/audit"
	domainerrors "phiguard/pkg/domain-errors"
)

// AuditQuerier is the slice of the audit service the API needs.
type AuditQuerier interface {
	QueryByPatient(ctx context.Context, patientID string, q audit.Query) ([]audit.Entry, error)
	QueryByUser(ctx context.Context, userID string, q audit.Query) ([]audit.Entry, error)
}

// AuditRecorder records that the disclosure history itself was accessed.
type AuditRecorder interface {
	LogAccess(ctx context.Context, entry audit.Entry) error
}

// Handler is the thin HTTP layer over the audit service.
type Handler struct {
	querier  AuditQuerier
	recorder AuditRecorder
}

// NewHandler builds the audit query API handler.
func NewHandler(querier AuditQuerier, recorder AuditRecorder) *Handler {
	return &Handler{querier: querier, recorder: recorder}
}

type entryResponse struct {
	ID            string    `json:"id"`
	EventType     string    `json:"eventType"`
	UserID        string    `json:"userId,omitempty"`
	UserRole      string    `json:"userRole,omitempty"`
	PatientID     string    `json:"patientId,omitempty"`
	ResourceType  string    `json:"resourceType"`
	ResourceID    string    `json:"resourceId,omitempty"`
	Action        string    `json:"action"`
	PHIAccessed   bool      `json:"phiAccessed"`
	PHIFields     []string  `json:"phiFields,omitempty"`
	RequestID     string    `json:"requestId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Outcome       string    `json:"outcome"`
	EventTime     time.Time `json:"eventTime"`
	CompensatesID string    `json:"compensatesId,omitempty"`
}

func (h *Handler) handlePatientAudit(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	h.handleQuery(w, r, "patient", patientID, func(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
		return h.querier.QueryByPatient(ctx, patientID, q)
	})
}

func (h *Handler) handleUserAudit(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	h.handleQuery(w, r, "user", userID, func(ctx context.Context, q audit.Query) ([]audit.Entry, error) {
		return h.querier.QueryByUser(ctx, userID, q)
	})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request, resourceType, resourceID string,
	query func(context.Context, audit.Query) ([]audit.Entry, error)) {

	caller, ok := CallerFrom(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	entries, err := query(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}

	// Reading disclosure history is itself an auditable access.
	if err := h.recorder.LogAccess(r.Context(), audit.Entry{
		EventType:    audit.EventAdminAction,
		UserID:       caller.Subject,
		ResourceType: "audit_log",
		ResourceID:   resourceType + ":" + resourceID,
		Action:       "audit.query",
		RequestID:    r.Header.Get("X-Request-Id"),
		Outcome:      audit.OutcomeSuccess,
	}); err != nil {
		writeError(w, err)
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toResponse(e))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"entries": out})
}

func parseQuery(r *http.Request) (audit.Query, error) {
	var q audit.Query
	params := r.URL.Query()

	if v := params.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, domainerrors.New(domainerrors.CodeInvalidInput, "start must be RFC3339")
		}
		q.Start = t
	}
	if v := params.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, domainerrors.New(domainerrors.CodeInvalidInput, "end must be RFC3339")
		}
		q.End = t
	}
	for _, v := range params["eventType"] {
		q.EventTypes = append(q.EventTypes, audit.EventType(v))
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return q, domainerrors.New(domainerrors.CodeInvalidInput, "limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}

func toResponse(e audit.Entry) entryResponse {
	resp := entryResponse{
		ID:            e.ID.String(),
		EventType:     string(e.EventType),
		UserID:        e.UserID,
		UserRole:      e.UserRole,
		PatientID:     e.PatientID,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		Action:        e.Action,
		PHIAccessed:   e.PHIAccessed,
		PHIFields:     e.PHIFields,
		RequestID:     e.RequestID,
		CorrelationID: e.CorrelationID,
		Outcome:       string(e.Outcome),
		EventTime:     e.EventTime,
	}
	if e.CompensatesID != nil {
		resp.CompensatesID = e.CompensatesID.String()
	}
	return resp
}

// writeError translates domain errors to generic JSON envelopes. End users
// never see raw diagnostic detail; that goes to logs and the audit stream.
func writeError(w http.ResponseWriter, err error) {
	code := domainerrors.CodeOf(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(domainerrors.ToHTTPStatus(code))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": string(code)})
}
