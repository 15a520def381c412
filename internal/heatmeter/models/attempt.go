package models

import (
	"time"

	id "selfcare/pkg/domain"
)

// AttemptType distinguishes verification channels.
type AttemptType string

const (
	TypeOTP     AttemptType = "otp"
	TypeInvoice AttemptType = "invoice"
	// TypeEmail exists in the attempt table for the account-recovery flow
	// owned by another service. The engines here never issue it.
	TypeEmail AttemptType = "email"
)

// Challenge windows and caps. These are product constants, not config: the
// SMS copy and the UI countdowns are written against them.
const (
	// MaxAttempts is the hard cap on verify calls per record. Once reached
	// the record is permanently unusable; only a fresh send helps.
	MaxAttempts = 3

	// OTPWindow is how long a six-digit code stays valid.
	OTPWindow = 10 * time.Minute

	// InvoiceWindow is how long an uploaded invoice awaits review before
	// the reference token lapses.
	InvoiceWindow = 7 * 24 * time.Hour

	// ResendCooldown is the minimum spacing between OTP sends for the same
	// (user, meter).
	ResendCooldown = 60 * time.Second
)

// Attempt is one verification challenge. Records are never deleted; expired
// and exhausted rows stay behind as the audit trail.
type Attempt struct {
	ID          id.AttemptID
	UserID      id.UserID
	MeterNumber id.MeterNumber
	Type        AttemptType
	// Token is the six-digit code for OTP attempts, or a random opaque
	// reference token for invoice/email attempts (never used for matching).
	Token      string
	FilePath   string
	ExpiresAt  time.Time
	Attempts   int
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

// Verified reports whether this attempt already succeeded.
func (a *Attempt) Verified() bool { return a.VerifiedAt != nil }

// Exhausted reports whether the attempt cap has been consumed.
func (a *Attempt) Exhausted() bool { return a.Attempts >= MaxAttempts }

// ActiveAt reports whether the record is still eligible for a verify call:
// unverified, unexpired, and under the attempt cap.
func (a *Attempt) ActiveAt(now time.Time) bool {
	return !a.Verified() && a.ExpiresAt.After(now) && !a.Exhausted()
}

// OTPVerifyResult is the machine-readable outcome of an OTP verify call.
type OTPVerifyResult string

const (
	// OTPVerified: code matched; the claim is now verified.
	OTPVerified OTPVerifyResult = "verified"
	// OTPCodeMismatch: an active challenge exists but the code was wrong.
	OTPCodeMismatch OTPVerifyResult = "code_mismatch"
	// OTPExhausted: the attempt cap is consumed; the UI should stop
	// prompting for codes and offer a fresh send instead.
	OTPExhausted OTPVerifyResult = "exhausted"
	// OTPNoActiveChallenge: nothing to verify against (never sent, or the
	// window lapsed).
	OTPNoActiveChallenge OTPVerifyResult = "no_active_challenge"
)

// Ok reports whether the result means the claim got verified.
func (r OTPVerifyResult) Ok() bool { return r == OTPVerified }

// UploadOutcome is the terminal state of an invoice upload. Neither value is
// an error: pending review is a valid outcome that hands off to a human.
type UploadOutcome string

const (
	UploadAutoVerified  UploadOutcome = "auto_verified"
	UploadPendingReview UploadOutcome = "pending_manual_review"
)
