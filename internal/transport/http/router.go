package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OperationAuditQuery is the rate limit operation name for the audit
// query endpoints.
const OperationAuditQuery = "audit.query"

// NewRouter wires the audit query API. Query endpoints sit behind service
// token auth and a per-caller quota; health and metrics stay open for the
// platform probes.
func NewRouter(h *Handler, jwtSigningKey string, limiter RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(RequireServiceToken(jwtSigningKey))
		r.Use(RateLimit(limiter, OperationAuditQuery))
		r.Get("/audit/patients/{patientID}", h.handlePatientAudit)
		r.Get("/audit/users/{userID}", h.handleUserAudit)
	})

	return r
}
