// Package ratelimit gates expensive or abusable operations per
// (operation, principal) against a shared counter store, so limits hold
// across service instances.
package ratelimit

import (
	"strings"
	"time"
)

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// Preset binds an operation to its limit and window.
type Preset struct {
	Operation string
	Limit     int
	Window    time.Duration
}

// DefaultPresets covers the platform operations that are expensive or
// abusable enough to gate. Deployments override per environment.
func DefaultPresets() []Preset {
	return []Preset{
		{Operation: "phi.export", Limit: 10, Window: time.Hour},
		{Operation: "patient.search", Limit: 120, Window: time.Minute},
		{Operation: "transcription.submit", Limit: 30, Window: time.Minute},
		{Operation: "rag.query", Limit: 60, Window: time.Minute},
		{Operation: "recommendation.generate", Limit: 30, Window: time.Minute},
		{Operation: "audit.query", Limit: 60, Window: time.Minute},
	}
}

// SanitizeKeySegment escapes delimiter characters in rate limit key
// segments to prevent key collision attacks where a principal containing
// ':' could manipulate adjacent buckets.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
