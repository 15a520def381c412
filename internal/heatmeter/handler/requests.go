package handler

import (
	"strings"
	"time"

	"selfcare/internal/heatmeter/models"
	dErrors "selfcare/pkg/domain-errors"
)

type claimRequest struct {
	MeterNumber string `json:"meter_number"`
	IsOwner     bool   `json:"is_owner"`
}

type sendOTPRequest struct {
	Phone string `json:"phone"`
}

// Validate checks the destination number shape. The portal only offers OTP
// verification to accounts with a verified number, so this is a transport
// sanity check, not the authority on phone validity.
func (r sendOTPRequest) Validate() error {
	phone := strings.TrimSpace(r.Phone)
	if phone == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "phone is required")
	}
	if !strings.HasPrefix(phone, "+383") && !strings.HasPrefix(phone, "+355") {
		return dErrors.New(dErrors.CodeInvalidInput, "phone must be a +383 or +355 number")
	}
	return nil
}

type verifyOTPRequest struct {
	Code string `json:"code"`
}

func (r verifyOTPRequest) Validate() error {
	if len(r.Code) != 6 {
		return dErrors.New(dErrors.CodeInvalidInput, "code must be six digits")
	}
	for _, c := range r.Code {
		if c < '0' || c > '9' {
			return dErrors.New(dErrors.CodeInvalidInput, "code must be six digits")
		}
	}
	return nil
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type claimResponse struct {
	ID                 string     `json:"id"`
	MeterNumber        string     `json:"meter_number"`
	IsOwner            bool       `json:"is_owner"`
	IsPrimary          bool       `json:"is_primary"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	VerificationMethod string     `json:"verification_method,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toClaimResponse(c *models.Claim) claimResponse {
	return claimResponse{
		ID:                 c.ID.String(),
		MeterNumber:        string(c.MeterNumber),
		IsOwner:            c.IsOwner,
		IsPrimary:          c.IsPrimary,
		VerifiedAt:         c.VerifiedAt,
		VerificationMethod: string(c.VerificationMethod),
		CreatedAt:          c.CreatedAt,
	}
}

// challengeResponse describes an issued challenge. The code itself only
// travels over SMS.
type challengeResponse struct {
	AttemptID string    `json:"attempt_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type verifyResponse struct {
	Status   string `json:"status"`
	Verified bool   `json:"verified"`
}

type uploadResponse struct {
	Outcome   string    `json:"outcome"`
	AttemptID string    `json:"attempt_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type pendingReviewResponse struct {
	AttemptID   string    `json:"attempt_id"`
	UserID      string    `json:"user_id"`
	MeterNumber string    `json:"meter_number"`
	FilePath    string    `json:"file_path"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func toPendingReviewResponse(a *models.Attempt) pendingReviewResponse {
	return pendingReviewResponse{
		AttemptID:   a.ID.String(),
		UserID:      a.UserID.String(),
		MeterNumber: string(a.MeterNumber),
		FilePath:    a.FilePath,
		CreatedAt:   a.CreatedAt,
		ExpiresAt:   a.ExpiresAt,
	}
}
