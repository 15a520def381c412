package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: claim or attempt does not exist in the store
// - ErrConflict: unique constraint hit (duplicate claim, concurrent insert)
// - ErrExpired: attempt record past its expiry window
// - ErrExhausted: attempt record at its attempt cap
// - ErrUnavailable: backing service temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrExpired     = errors.New("expired")
	ErrExhausted   = errors.New("exhausted")
	ErrUnavailable = errors.New("unavailable")
)
