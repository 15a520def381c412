package service

import (
	"context"
	"errors"

	"selfcare/internal/audit"
	"selfcare/internal/heatmeter/models"
	id "selfcare/pkg/domain"
	dErrors "selfcare/pkg/domain-errors"
	"selfcare/pkg/platform/sentinel"
	"selfcare/pkg/requestcontext"
)

// PendingReviews returns invoice attempts awaiting a reviewer decision,
// newest first.
func (s *Service) PendingReviews(ctx context.Context, limit int) ([]*models.Attempt, error) {
	pending, err := s.attempts.ListPendingInvoices(ctx, requestcontext.Now(ctx), limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending reviews")
	}
	return pending, nil
}

// ApproveReview accepts an invoice attempt a human has checked: the attempt
// and its claim are marked verified with method invoice. Re-approving an
// already-verified attempt is a no-op success.
func (s *Service) ApproveReview(ctx context.Context, actorID string, attemptID id.AttemptID) error {
	a, err := s.reviewableAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if a.Verified() {
		return nil
	}

	now := requestcontext.Now(ctx)
	if err := s.attempts.MarkVerified(ctx, attemptID, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark attempt verified")
	}
	if err := s.markVerified(ctx, a.UserID, a.MeterNumber, models.MethodInvoice); err != nil {
		// The claim may have been removed while the upload sat in the
		// queue; the attempt stays verified as the audit record either way.
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			return err
		}
	}

	s.emit(ctx, audit.Event{
		UserID:      a.UserID,
		MeterNumber: a.MeterNumber,
		Action:      audit.ActionReviewApproved,
		ActorID:     actorID,
	})
	return nil
}

// RejectReview force-expires an invoice attempt so it leaves the queue. The
// user may upload a fresh document afterwards.
func (s *Service) RejectReview(ctx context.Context, actorID string, attemptID id.AttemptID, reason string) error {
	a, err := s.reviewableAttempt(ctx, attemptID)
	if err != nil {
		return err
	}
	if a.Verified() {
		return dErrors.New(dErrors.CodeConflict, "attempt is already verified")
	}

	if err := s.attempts.Expire(ctx, attemptID, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire attempt")
	}

	s.emit(ctx, audit.Event{
		UserID:      a.UserID,
		MeterNumber: a.MeterNumber,
		Action:      audit.ActionReviewRejected,
		Detail:      reason,
		ActorID:     actorID,
	})
	return nil
}

func (s *Service) reviewableAttempt(ctx context.Context, attemptID id.AttemptID) (*models.Attempt, error) {
	a, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "attempt not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up attempt")
	}
	if a.Type != models.TypeInvoice {
		return nil, dErrors.New(dErrors.CodeBadRequest, "attempt is not an invoice verification")
	}
	return a, nil
}
