package httptransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"phiguard/pkg/audit"
	auditmem "phiguard/pkg/audit/store/memory"
	"phiguard/pkg/ratelimit"
	rlmem "phiguard/pkg/ratelimit/store/memory"
	"phiguard/pkg/testutil"
)

const testSigningKey = "test-signing-key"

type HandlerSuite struct {
	suite.Suite
	store  *auditmem.Store
	router http.Handler
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.store = auditmem.New()

	auditLogger, err := audit.New(s.store)
	s.Require().NoError(err)

	limiter, err := ratelimit.New(rlmem.New(), ratelimit.DefaultPresets())
	s.Require().NoError(err)

	handler := NewHandler(auditLogger, auditLogger)
	s.router = NewRouter(handler, testSigningKey, limiter)
}

func (s *HandlerSuite) seed(entry audit.Entry) {
	s.T().Helper()
	s.Require().NoError(s.store.Append(context.Background(), entry))
}

func (s *HandlerSuite) get(path, token string) *httptest.ResponseRecorder {
	s.T().Helper()
	req := testutil.NewRequest(s.T(), http.MethodGet, path)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) token() string {
	return testutil.SignServiceToken(s.T(), testSigningKey, "svc-compliance", Audience, "compliance")
}

type queryResponse struct {
	Entries []entryResponse `json:"entries"`
}

func (s *HandlerSuite) TestAuthentication() {
	s.Run("missing token", func() {
		rec := s.get("/audit/patients/pat-1", "")
		testutil.AssertStatus(s.T(), rec, http.StatusUnauthorized)
	})

	s.Run("token signed with the wrong key", func() {
		token := testutil.SignServiceToken(s.T(), "other-key", "svc-1", Audience)
		rec := s.get("/audit/patients/pat-1", token)
		testutil.AssertStatus(s.T(), rec, http.StatusUnauthorized)
	})

	s.Run("token for another audience", func() {
		token := testutil.SignServiceToken(s.T(), testSigningKey, "svc-1", "other-api")
		rec := s.get("/audit/patients/pat-1", token)
		testutil.AssertStatus(s.T(), rec, http.StatusUnauthorized)
	})

	s.Run("token without a subject", func() {
		token := testutil.SignServiceToken(s.T(), testSigningKey, "", Audience)
		rec := s.get("/audit/patients/pat-1", token)
		testutil.AssertStatus(s.T(), rec, http.StatusUnauthorized)
	})

	s.Run("health and metrics stay open", func() {
		testutil.AssertStatus(s.T(), s.get("/healthz", ""), http.StatusOK)
		testutil.AssertStatus(s.T(), s.get("/metrics", ""), http.StatusOK)
	})
}

func (s *HandlerSuite) TestPatientAudit() {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.seed(audit.Entry{PatientID: "pat-1", UserID: "usr-1", ResourceType: "patient", EventType: audit.EventPHIAccess, Outcome: audit.OutcomeSuccess, EventTime: base})
	s.seed(audit.Entry{PatientID: "pat-1", UserID: "usr-2", ResourceType: "transcription", EventType: audit.EventPHIExport, Outcome: audit.OutcomeSuccess, EventTime: base.Add(time.Hour)})
	s.seed(audit.Entry{PatientID: "pat-2", UserID: "usr-1", ResourceType: "patient", EventType: audit.EventPHIAccess, Outcome: audit.OutcomeSuccess, EventTime: base})

	s.Run("returns the patient's entries across resource types", func() {
		rec := s.get("/audit/patients/pat-1", s.token())
		testutil.AssertStatus(s.T(), rec, http.StatusOK)

		var resp queryResponse
		testutil.DecodeJSON(s.T(), rec, &resp)
		s.Require().Len(resp.Entries, 2)
		for _, e := range resp.Entries {
			s.Equal("pat-1", e.PatientID)
		}
	})

	s.Run("records the disclosure lookup itself", func() {
		before := s.store.Len()
		rec := s.get("/audit/patients/pat-1", s.token())
		testutil.AssertStatus(s.T(), rec, http.StatusOK)

		entries := s.store.All()
		s.Require().Len(entries, before+1)

		selfAudit := entries[len(entries)-1]
		s.Equal(audit.EventAdminAction, selfAudit.EventType)
		s.Equal("svc-compliance", selfAudit.UserID)
		s.Equal("audit_log", selfAudit.ResourceType)
		s.Equal("patient:pat-1", selfAudit.ResourceID)
		s.Equal("audit.query", selfAudit.Action)
	})

	s.Run("event type filter", func() {
		rec := s.get("/audit/patients/pat-1?eventType=PHI_EXPORT", s.token())
		testutil.AssertStatus(s.T(), rec, http.StatusOK)

		var resp queryResponse
		testutil.DecodeJSON(s.T(), rec, &resp)
		s.Require().Len(resp.Entries, 1)
		s.Equal("PHI_EXPORT", resp.Entries[0].EventType)
	})

	s.Run("time window filter", func() {
		rec := s.get("/audit/patients/pat-1?start="+base.Add(30*time.Minute).Format(time.RFC3339), s.token())
		testutil.AssertStatus(s.T(), rec, http.StatusOK)

		var resp queryResponse
		testutil.DecodeJSON(s.T(), rec, &resp)
		s.Require().Len(resp.Entries, 1)
	})

	s.Run("invalid query parameters", func() {
		testutil.AssertStatus(s.T(), s.get("/audit/patients/pat-1?start=yesterday", s.token()), http.StatusBadRequest)
		testutil.AssertStatus(s.T(), s.get("/audit/patients/pat-1?limit=-1", s.token()), http.StatusBadRequest)
	})

	s.Run("unknown patient yields an empty list", func() {
		rec := s.get("/audit/patients/pat-404", s.token())
		testutil.AssertStatus(s.T(), rec, http.StatusOK)

		var resp queryResponse
		testutil.DecodeJSON(s.T(), rec, &resp)
		s.Empty(resp.Entries)
	})
}

func (s *HandlerSuite) TestUserAudit() {
	s.seed(audit.Entry{PatientID: "pat-1", UserID: "usr-1", ResourceType: "patient", EventType: audit.EventPHIAccess, Outcome: audit.OutcomeSuccess})
	s.seed(audit.Entry{PatientID: "pat-2", UserID: "usr-1", ResourceType: "patient", EventType: audit.EventPHIAccess, Outcome: audit.OutcomeSuccess})
	s.seed(audit.Entry{PatientID: "pat-1", UserID: "usr-2", ResourceType: "patient", EventType: audit.EventPHIAccess, Outcome: audit.OutcomeSuccess})

	rec := s.get("/audit/users/usr-1", s.token())
	testutil.AssertStatus(s.T(), rec, http.StatusOK)

	var resp queryResponse
	testutil.DecodeJSON(s.T(), rec, &resp)
	s.Require().Len(resp.Entries, 2)
	for _, e := range resp.Entries {
		s.Equal("usr-1", e.UserID)
	}
}

func (s *HandlerSuite) TestRateLimit() {
	auditLogger, err := audit.New(s.store)
	s.Require().NoError(err)

	limiter, err := ratelimit.New(rlmem.New(), []ratelimit.Preset{
		{Operation: OperationAuditQuery, Limit: 2, Window: time.Minute},
	})
	s.Require().NoError(err)

	handler := NewHandler(auditLogger, auditLogger)
	s.router = NewRouter(handler, testSigningKey, limiter)

	token := s.token()
	testutil.AssertStatus(s.T(), s.get("/audit/patients/pat-1", token), http.StatusOK)
	testutil.AssertStatus(s.T(), s.get("/audit/patients/pat-1", token), http.StatusOK)

	rec := s.get("/audit/patients/pat-1", token)
	testutil.AssertStatus(s.T(), rec, http.StatusTooManyRequests)
	s.Equal("2", rec.Header().Get("X-RateLimit-Limit"))
	s.NotEmpty(rec.Header().Get("Retry-After"))

	// Another principal still has budget.
	other := testutil.SignServiceToken(s.T(), testSigningKey, "svc-other", Audience)
	testutil.AssertStatus(s.T(), s.get("/audit/patients/pat-1", other), http.StatusOK)
}
