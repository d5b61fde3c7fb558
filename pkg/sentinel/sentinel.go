package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and crypto primitives
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrUnavailable: backing store temporarily unreachable
// - ErrRetired: key version exists but is no longer active for encryption
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("unavailable")
	ErrRetired     = errors.New("retired")
)
