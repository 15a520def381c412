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

// Claim registers a heatmeter for the user. Duplicate submissions are
// idempotent: the existing claim comes back tagged Created=false. The store
// decides primary designation — a user's first claim is primary.
func (s *Service) Claim(ctx context.Context, userID id.UserID, meter id.MeterNumber, isOwner bool) (*models.ClaimResult, error) {
	if existing, err := s.claims.FindByUserAndMeter(ctx, userID, meter); err == nil {
		return &models.ClaimResult{Claim: existing, Created: false}, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up claim")
	}

	now := requestcontext.Now(ctx)
	c := &models.Claim{
		ID:          id.NewClaimID(),
		UserID:      userID,
		MeterNumber: meter,
		IsOwner:     isOwner,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.claims.Create(ctx, c)
	if errors.Is(err, sentinel.ErrConflict) {
		// Lost a race. Usually the same (user, meter) pair landed first;
		// under read-committed the primary backstop index can also fire for
		// a concurrent first claim on a different meter, in which case the
		// pair lookup misses and one retry resolves it.
		existing, ferr := s.claims.FindByUserAndMeter(ctx, userID, meter)
		if ferr == nil {
			return &models.ClaimResult{Claim: existing, Created: false}, nil
		}
		if !errors.Is(ferr, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(ferr, dErrors.CodeInternal, "failed to look up claim")
		}
		err = s.claims.Create(ctx, c)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create claim")
	}

	s.logger.InfoContext(ctx, "heatmeter claimed",
		"request_id", requestcontext.RequestID(ctx),
		"claim_id", c.ID,
		"is_primary", c.IsPrimary,
	)
	s.emit(ctx, audit.Event{
		UserID:      userID,
		MeterNumber: meter,
		Action:      audit.ActionClaimCreated,
	})
	s.metrics.IncrementClaimsCreated()

	return &models.ClaimResult{Claim: c, Created: true}, nil
}

// List returns all of the user's claims, oldest first, each carrying its
// verification state.
func (s *Service) List(ctx context.Context, userID id.UserID) ([]*models.Claim, error) {
	claims, err := s.claims.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list claims")
	}
	return claims, nil
}

// SetPrimary reassigns the user's primary claim. The target must exist,
// belong to the user, and be verified. Clearing the old primary and setting
// the new one is atomic in the store.
func (s *Service) SetPrimary(ctx context.Context, userID id.UserID, claimID id.ClaimID) (*models.Claim, error) {
	c, err := s.ownedClaim(ctx, userID, claimID)
	if err != nil {
		return nil, err
	}
	if err := c.CanBecomePrimary(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if err := s.claims.SetPrimary(ctx, userID, claimID, now); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "claim not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to set primary claim")
	}

	c.IsPrimary = true
	c.UpdatedAt = now
	s.emit(ctx, audit.Event{
		UserID:      userID,
		MeterNumber: c.MeterNumber,
		Action:      audit.ActionPrimaryChanged,
	})
	return c, nil
}

// Remove deletes a claim. Removing the primary claim is blocked while the
// user holds other claims; the last remaining claim may always be removed.
func (s *Service) Remove(ctx context.Context, userID id.UserID, claimID id.ClaimID) error {
	c, err := s.ownedClaim(ctx, userID, claimID)
	if err != nil {
		return err
	}

	if c.IsPrimary {
		total, err := s.claims.CountByUser(ctx, userID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count claims")
		}
		if total > 1 {
			return dErrors.New(dErrors.CodePrimaryClaimProtected, "reassign primary before removing this claim")
		}
	}

	if err := s.claims.Delete(ctx, userID, claimID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "claim not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove claim")
	}

	s.emit(ctx, audit.Event{
		UserID:      userID,
		MeterNumber: c.MeterNumber,
		Action:      audit.ActionClaimRemoved,
	})
	return nil
}

// markVerified flips the claim for (user, meter) to verified with the given
// method. Engine-internal; idempotent when already verified.
func (s *Service) markVerified(ctx context.Context, userID id.UserID, meter id.MeterNumber, method models.VerificationMethod) error {
	c, err := s.claims.FindByUserAndMeter(ctx, userID, meter)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "claim not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up claim")
	}
	if err := s.claims.MarkVerified(ctx, c.ID, method, requestcontext.Now(ctx)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark claim verified")
	}
	return nil
}

// ownedClaim loads a claim and checks ownership. A claim owned by someone
// else reads as not found — claim IDs must not leak across users.
func (s *Service) ownedClaim(ctx context.Context, userID id.UserID, claimID id.ClaimID) (*models.Claim, error) {
	c, err := s.claims.FindByID(ctx, claimID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "claim not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up claim")
	}
	if c.UserID != userID {
		return nil, dErrors.New(dErrors.CodeNotFound, "claim not found")
	}
	return c, nil
}
