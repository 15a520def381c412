package models

import (
	"time"

	id "selfcare/pkg/domain"
	dErrors "selfcare/pkg/domain-errors"
)

// VerificationMethod records how a claim was proven.
type VerificationMethod string

const (
	MethodOTP     VerificationMethod = "otp"
	MethodInvoice VerificationMethod = "invoice"
)

// ParseVerificationMethod validates a method string.
func ParseVerificationMethod(s string) (VerificationMethod, error) {
	switch VerificationMethod(s) {
	case MethodOTP, MethodInvoice:
		return VerificationMethod(s), nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown verification method")
	}
}

// Claim is one user's assertion that a heatmeter belongs to them. A user
// holds at most one claim per meter and at most one primary claim.
//
// The first claim a user ever creates is primary by default even though it
// is still unverified at that point. Later primary reassignment requires a
// verified target. This asymmetry matches the behavior of the production
// portal and is kept deliberately; see DESIGN.md.
type Claim struct {
	ID                 id.ClaimID
	UserID             id.UserID
	MeterNumber        id.MeterNumber
	IsOwner            bool
	IsPrimary          bool
	VerifiedAt         *time.Time
	VerificationMethod VerificationMethod
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Verified reports whether the claim has passed either verification flow.
func (c *Claim) Verified() bool { return c.VerifiedAt != nil }

// CanBecomePrimary enforces the reassignment precondition: only verified
// claims may be promoted.
func (c *Claim) CanBecomePrimary() error {
	if !c.Verified() {
		return dErrors.New(dErrors.CodeNotVerified, "claim must be verified before it can be primary")
	}
	return nil
}

// ApplyVerification marks the claim verified. Idempotent: a claim that is
// already verified keeps its original timestamp and method.
func (c *Claim) ApplyVerification(method VerificationMethod, at time.Time) {
	if c.Verified() {
		return
	}
	c.VerifiedAt = &at
	c.VerificationMethod = method
	c.UpdatedAt = at
}

// ClaimResult is the tagged outcome of a claim submission. Duplicate
// submissions are idempotent: the existing claim comes back with
// Created=false instead of an error.
type ClaimResult struct {
	Claim   *Claim
	Created bool
}
