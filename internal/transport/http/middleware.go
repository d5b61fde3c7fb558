package httptransport

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"phiguard/pkg/ratelimit"
)

// Audience identifies tokens minted for the audit query API.
const Audience = "phiguard-audit"

type contextKey string

const callerKey contextKey = "phiguard.caller"

// Caller identifies the authenticated service principal on a request.
type Caller struct {
	Subject string
	Roles   []string
}

// CallerFrom extracts the authenticated caller from the request context.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey).(Caller)
	return c, ok
}

// RequireServiceToken authenticates service-to-service bearer tokens
// (HS256). The audit query API is read-only but exposes PHI access
// history, so every request must carry an identified principal.
func RequireServiceToken(signingKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				writeUnauthorized(w)
				return
			}

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(signingKey), nil
			}, jwt.WithAudience(Audience), jwt.WithExpirationRequired())
			if err != nil || !token.Valid {
				writeUnauthorized(w)
				return
			}

			caller := Caller{}
			if sub, err := claims.GetSubject(); err == nil {
				caller.Subject = sub
			}
			if roles, ok := claims["roles"].([]any); ok {
				for _, role := range roles {
					if s, ok := role.(string); ok {
						caller.Roles = append(caller.Roles, s)
					}
				}
			}
			if caller.Subject == "" {
				writeUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimiter is the consumption surface the transport needs from the
// rate limiting package.
type RateLimiter interface {
	Consume(ctx context.Context, operation, principal string) (*ratelimit.Result, error)
}

// RateLimit enforces the named operation's quota per authenticated
// caller. It must run after RequireServiceToken.
func RateLimit(limiter RateLimiter, operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, ok := CallerFrom(r.Context())
			if !ok {
				writeUnauthorized(w)
				return
			}

			res, err := limiter.Consume(r.Context(), operation, caller.Subject)
			if err != nil {
				writeError(w, err)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
}
