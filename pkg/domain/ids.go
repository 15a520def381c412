// Package domain holds domain primitives shared across bounded contexts.
// IDs are distinct types over uuid.UUID so the compiler rejects cross-type
// assignment (a UserID can never be passed where a ClaimID is expected).
package domain

import (
	"github.com/google/uuid"

	dErrors "selfcare/pkg/domain-errors"
)

// UserID identifies a portal customer. Issued by the external auth service;
// this core only consumes it.
type UserID uuid.UUID

// ClaimID identifies a heatmeter ownership claim.
type ClaimID uuid.UUID

// AttemptID identifies a verification attempt record.
type AttemptID uuid.UUID

func (id UserID) String() string    { return uuid.UUID(id).String() }
func (id ClaimID) String() string   { return uuid.UUID(id).String() }
func (id AttemptID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id ClaimID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id AttemptID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewClaimID returns a fresh random claim ID.
func NewClaimID() ClaimID { return ClaimID(uuid.New()) }

// NewAttemptID returns a fresh random attempt ID.
func NewAttemptID() AttemptID { return AttemptID(uuid.New()) }

// ParseUserID validates and converts a string into a UserID.
// IDs must be valid, non-empty, non-nil UUIDs.
func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user id")
	return UserID(u), err
}

// ParseClaimID validates and converts a string into a ClaimID.
func ParseClaimID(s string) (ClaimID, error) {
	u, err := parseUUID(s, "claim id")
	return ClaimID(u), err
}

// ParseAttemptID validates and converts a string into an AttemptID.
func ParseAttemptID(s string) (AttemptID, error) {
	u, err := parseUUID(s, "attempt id")
	return AttemptID(u), err
}

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be the nil UUID")
	}
	return u, nil
}
