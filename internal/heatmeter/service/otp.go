package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"selfcare/internal/audit"
	"selfcare/internal/heatmeter/models"
	id "selfcare/pkg/domain"
	dErrors "selfcare/pkg/domain-errors"
	"selfcare/pkg/platform/sentinel"
	"selfcare/pkg/requestcontext"
)

// SendOTP issues a fresh six-digit challenge for the claim and dispatches it
// over SMS. Any previously active challenge for the same (user, meter) is
// force-expired in the same store operation, so at most one challenge is
// ever active. The phone number is the caller's responsibility: the portal
// only routes here for users with a verified number on file.
//
// On SMS failure the persisted record is kept and a delivery_failed error is
// returned; the user can retry without re-creating state.
func (s *Service) SendOTP(ctx context.Context, userID id.UserID, claimID id.ClaimID, phone string) (*models.Attempt, error) {
	return s.issueOTP(ctx, userID, claimID, phone, false)
}

// ResendOTP behaves as SendOTP but enforces the 60-second spacing between
// sends for the same (user, meter). The cooldown is measured against the
// newest prior record regardless of its state.
func (s *Service) ResendOTP(ctx context.Context, userID id.UserID, claimID id.ClaimID, phone string) (*models.Attempt, error) {
	return s.issueOTP(ctx, userID, claimID, phone, true)
}

func (s *Service) issueOTP(ctx context.Context, userID id.UserID, claimID id.ClaimID, phone string, resend bool) (*models.Attempt, error) {
	ctx, span := s.tracer.Start(ctx, "otp.send")
	defer span.End()

	c, err := s.ownedClaim(ctx, userID, claimID)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if resend {
		if err := s.checkResendCooldown(ctx, userID, c.MeterNumber, now); err != nil {
			return nil, err
		}
	}

	code, err := generateCode()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
	}

	attempt := &models.Attempt{
		ID:          id.NewAttemptID(),
		UserID:      userID,
		MeterNumber: c.MeterNumber,
		Type:        models.TypeOTP,
		Token:       code,
		ExpiresAt:   now.Add(models.OTPWindow),
		CreatedAt:   now,
	}
	if err := s.attempts.SupersedeAndCreate(ctx, attempt, now); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create challenge")
	}

	message := fmt.Sprintf("Kodi juaj i verifikimit: %s. Skadon per %d minuta. / Your verification code is %s. It expires in %d minutes.",
		code, int(models.OTPWindow.Minutes()), code, int(models.OTPWindow.Minutes()))
	if err := s.sender.Send(ctx, phone, message); err != nil {
		s.logger.ErrorContext(ctx, "otp delivery failed",
			"request_id", requestcontext.RequestID(ctx),
			"claim_id", claimID,
			"error", err,
		)
		s.metrics.IncrementSMSFailures()
		s.emit(ctx, audit.Event{
			UserID:      userID,
			MeterNumber: c.MeterNumber,
			Action:      audit.ActionDeliveryFailure,
			Detail:      "sms gateway error",
		})
		return nil, dErrors.Wrap(err, dErrors.CodeDeliveryFailed, "could not deliver verification code")
	}

	action := audit.ActionOTPSent
	if resend {
		action = audit.ActionOTPResent
	}
	s.emit(ctx, audit.Event{
		UserID:      userID,
		MeterNumber: c.MeterNumber,
		Action:      action,
	})
	s.metrics.IncrementOTPSent()
	s.logger.InfoContext(ctx, "otp challenge issued",
		"request_id", requestcontext.RequestID(ctx),
		"claim_id", claimID,
		"resend", resend,
	)
	return attempt, nil
}

func (s *Service) checkResendCooldown(ctx context.Context, userID id.UserID, meter id.MeterNumber, now time.Time) error {
	latest, err := s.attempts.FindLatest(ctx, userID, meter, models.TypeOTP)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up challenge")
	}
	if elapsed := now.Sub(latest.CreatedAt); elapsed < models.ResendCooldown {
		wait := models.ResendCooldown - elapsed
		return dErrors.Newf(dErrors.CodeRateLimited, "wait %d seconds before requesting another code", int(wait.Seconds())+1)
	}
	return nil
}

// VerifyOTP checks a submitted code against the newest active challenge for
// the claim. The attempt counter is consumed atomically before comparison,
// even on success. The outcome enum lets the portal distinguish a wrong code
// from an exhausted or absent challenge.
func (s *Service) VerifyOTP(ctx context.Context, userID id.UserID, claimID id.ClaimID, code string) (models.OTPVerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "otp.verify")
	defer span.End()
	start := time.Now()

	c, err := s.ownedClaim(ctx, userID, claimID)
	if err != nil {
		return "", err
	}
	now := requestcontext.Now(ctx)

	active, err := s.attempts.FindActive(ctx, userID, c.MeterNumber, models.TypeOTP, now)
	if errors.Is(err, sentinel.ErrNotFound) {
		result := s.classifyInactive(ctx, userID, c.MeterNumber, now)
		s.metrics.ObserveOTPVerify(string(result), start)
		return result, nil
	}
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up challenge")
	}

	updated, err := s.attempts.IncrementAttempts(ctx, active.ID)
	if errors.Is(err, sentinel.ErrExhausted) {
		// Lost a race with a concurrent guess that consumed the cap.
		s.metrics.ObserveOTPVerify(string(models.OTPExhausted), start)
		return models.OTPExhausted, nil
	}
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to record attempt")
	}

	if code != updated.Token {
		result := models.OTPCodeMismatch
		detail := "code mismatch"
		if updated.Exhausted() {
			result = models.OTPExhausted
			detail = "attempt cap reached"
		}
		s.emit(ctx, audit.Event{
			UserID:      userID,
			MeterNumber: c.MeterNumber,
			Action:      audit.ActionOTPRejected,
			Detail:      detail,
		})
		s.metrics.ObserveOTPVerify(string(result), start)
		return result, nil
	}

	if err := s.attempts.MarkVerified(ctx, updated.ID, now); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark challenge verified")
	}
	if err := s.markVerified(ctx, userID, c.MeterNumber, models.MethodOTP); err != nil {
		return "", err
	}

	s.emit(ctx, audit.Event{
		UserID:      userID,
		MeterNumber: c.MeterNumber,
		Action:      audit.ActionOTPVerified,
	})
	s.metrics.ObserveOTPVerify(string(models.OTPVerified), start)
	s.logger.InfoContext(ctx, "otp verified",
		"request_id", requestcontext.RequestID(ctx),
		"claim_id", claimID,
	)
	return models.OTPVerified, nil
}

// classifyInactive decides why no active challenge exists: a maxed-out but
// unexpired newest record reads as exhausted, anything else as absent.
// Nothing is mutated on this path.
func (s *Service) classifyInactive(ctx context.Context, userID id.UserID, meter id.MeterNumber, now time.Time) models.OTPVerifyResult {
	latest, err := s.attempts.FindLatest(ctx, userID, meter, models.TypeOTP)
	if err != nil {
		return models.OTPNoActiveChallenge
	}
	if !latest.Verified() && latest.ExpiresAt.After(now) && latest.Exhausted() {
		return models.OTPExhausted
	}
	return models.OTPNoActiveChallenge
}

// generateCode draws a uniformly random six-digit code. crypto/rand keeps
// the draw independent of request timing.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
