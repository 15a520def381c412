// Package audit records the verification trail: every challenge issued,
// every verify outcome, every registry mutation. Events are append-only and
// store-backed so tests can swap sinks easily.
package audit

import (
	"context"
	"time"

	id "selfcare/pkg/domain"
)

// Action identifies what happened.
type Action string

const (
	ActionClaimCreated      Action = "claim_created"
	ActionClaimRemoved      Action = "claim_removed"
	ActionPrimaryChanged    Action = "primary_changed"
	ActionOTPSent           Action = "otp_sent"
	ActionOTPResent         Action = "otp_resent"
	ActionOTPVerified       Action = "otp_verified"
	ActionOTPRejected       Action = "otp_rejected"
	ActionInvoiceUploaded   Action = "invoice_uploaded"
	ActionInvoiceAutoOK     Action = "invoice_auto_verified"
	ActionInvoicePending    Action = "invoice_pending_review"
	ActionReviewApproved    Action = "review_approved"
	ActionReviewRejected    Action = "review_rejected"
	ActionDeliveryFailure   Action = "sms_delivery_failed"
	ActionExtractionFailure Action = "ocr_extraction_failed"
)

// Event is one audit record. Keep it transport-agnostic so sinks can fan
// out without knowing about HTTP.
type Event struct {
	Timestamp   time.Time
	UserID      id.UserID
	MeterNumber id.MeterNumber
	Action      Action
	// Detail carries the outcome-specific note (verify result, reviewer
	// decision reason, delivery error class).
	Detail string
	// Request correlation and client fingerprint, captured from context by
	// the emitter.
	RequestID string
	ClientIP  string
	Device    string
	// ActorID is set when someone other than the claim owner acted (manual
	// review decisions).
	ActorID string
}

// Store is an append-only event sink.
type Store interface {
	Append(ctx context.Context, e Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
