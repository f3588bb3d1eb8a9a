package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so callers can translate them into API
// responses.
//
// These represent factual states about resources, not validation outcomes:
// - ErrNotFound: no finalized record exists for the document
// - ErrInvalidState: a record failed a store's structural invariants
// - ErrUnavailable: a backing service is temporarily unreachable
//
// Rule violations are never errors; they travel inside the verdict.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
