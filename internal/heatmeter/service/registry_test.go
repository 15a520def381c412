package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"selfcare/internal/audit"
	"selfcare/internal/heatmeter/models"
	id "selfcare/pkg/domain"
	dErrors "selfcare/pkg/domain-errors"
)

type RegistrySuite struct {
	serviceSuite
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

// =============================================================================
// Claim Tests
// =============================================================================

func (s *RegistrySuite) TestClaim() {
	ctx := s.at(0)

	s.Run("first claim becomes primary", func() {
		res, err := s.svc.Claim(ctx, s.userID, "HM100001", true)
		s.NoError(err)
		s.True(res.Created)
		s.True(res.Claim.IsPrimary)
		s.False(res.Claim.Verified())
	})

	s.Run("second claim is not primary", func() {
		res, err := s.svc.Claim(ctx, s.userID, "HM100002", false)
		s.NoError(err)
		s.True(res.Created)
		s.False(res.Claim.IsPrimary)
		s.False(res.Claim.IsOwner)
	})

	s.Run("duplicate submission returns the existing claim", func() {
		first, err := s.svc.Claim(ctx, s.userID, "HM100001", true)
		s.Require().NoError(err)
		s.False(first.Created)

		again, err := s.svc.Claim(ctx, s.userID, "HM100001", false)
		s.NoError(err)
		s.False(again.Created)
		s.Equal(first.Claim.ID, again.Claim.ID)

		claims, err := s.svc.List(ctx, s.userID)
		s.Require().NoError(err)
		s.Len(claims, 2)
	})

	s.Run("same meter for another user is independent", func() {
		other := id.UserID(uuid.New())
		res, err := s.svc.Claim(ctx, other, "HM100001", true)
		s.NoError(err)
		s.True(res.Created)
		s.True(res.Claim.IsPrimary)
	})

	s.Run("claims are audited", func() {
		s.Contains(s.actions(), audit.ActionClaimCreated)
	})
}

func (s *RegistrySuite) TestListOrderedOldestFirst() {
	s.mustClaim(s.at(0), "HM200001")
	s.mustClaim(s.at(time.Minute), "HM200002")
	s.mustClaim(s.at(2*time.Minute), "HM200003")

	claims, err := s.svc.List(s.at(time.Hour), s.userID)
	s.Require().NoError(err)
	s.Require().Len(claims, 3)
	s.Equal(id.MeterNumber("HM200001"), claims[0].MeterNumber)
	s.Equal(id.MeterNumber("HM200002"), claims[1].MeterNumber)
	s.Equal(id.MeterNumber("HM200003"), claims[2].MeterNumber)
}

// =============================================================================
// SetPrimary Tests
// =============================================================================

func (s *RegistrySuite) TestSetPrimary() {
	ctx := s.at(0)
	first := s.mustClaim(ctx, "HM300001")
	second := s.mustClaim(ctx, "HM300002")

	s.Run("unverified claim cannot become primary", func() {
		_, err := s.svc.SetPrimary(ctx, s.userID, second.ID)
		s.Error(err)
		s.Equal(dErrors.CodeNotVerified, dErrors.CodeOf(err))
	})

	s.Run("verified claim takes over and the old primary is demoted", func() {
		s.Require().NoError(s.claims.MarkVerified(ctx, second.ID, models.MethodOTP, testBase))

		promoted, err := s.svc.SetPrimary(ctx, s.userID, second.ID)
		s.Require().NoError(err)
		s.True(promoted.IsPrimary)

		claims, err := s.svc.List(ctx, s.userID)
		s.Require().NoError(err)
		primaries := 0
		for _, c := range claims {
			if c.IsPrimary {
				primaries++
				s.Equal(second.ID, c.ID)
			}
		}
		s.Equal(1, primaries)

		demoted, err := s.claims.FindByID(ctx, first.ID)
		s.Require().NoError(err)
		s.False(demoted.IsPrimary)
	})

	s.Run("another user's claim reads as not found", func() {
		_, err := s.svc.SetPrimary(ctx, id.UserID(uuid.New()), second.ID)
		s.Error(err)
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})

	s.Run("unknown claim id is not found", func() {
		_, err := s.svc.SetPrimary(ctx, s.userID, id.NewClaimID())
		s.Error(err)
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})
}

// =============================================================================
// Remove Tests
// =============================================================================

func (s *RegistrySuite) TestRemove() {
	ctx := s.at(0)
	primary := s.mustClaim(ctx, "HM400001")
	secondary := s.mustClaim(ctx, "HM400002")

	s.Run("primary is protected while other claims exist", func() {
		err := s.svc.Remove(ctx, s.userID, primary.ID)
		s.Error(err)
		s.Equal(dErrors.CodePrimaryClaimProtected, dErrors.CodeOf(err))
	})

	s.Run("non-primary claim can always be removed", func() {
		s.NoError(s.svc.Remove(ctx, s.userID, secondary.ID))
		claims, err := s.svc.List(ctx, s.userID)
		s.Require().NoError(err)
		s.Len(claims, 1)
	})

	s.Run("last remaining claim can be removed even when primary", func() {
		s.NoError(s.svc.Remove(ctx, s.userID, primary.ID))
		claims, err := s.svc.List(ctx, s.userID)
		s.Require().NoError(err)
		s.Empty(claims)
	})

	s.Run("removing an already removed claim is not found", func() {
		err := s.svc.Remove(ctx, s.userID, primary.ID)
		s.Error(err)
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})

	s.Run("removals are audited", func() {
		s.Contains(s.actions(), audit.ActionClaimRemoved)
	})
}

func (s *RegistrySuite) TestRemoveScopedToOwner() {
	ctx := s.at(0)
	c := s.mustClaim(ctx, "HM500001")

	err := s.svc.Remove(ctx, id.UserID(uuid.New()), c.ID)
	s.Error(err)
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))

	// Still there for the owner.
	claims, err := s.svc.List(ctx, s.userID)
	s.Require().NoError(err)
	s.Len(claims, 1)
}
