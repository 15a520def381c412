package claim

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"selfcare/internal/heatmeter/models"
	id "selfcare/pkg/domain"
	"selfcare/pkg/platform/sentinel"
)

type ClaimStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	now   time.Time
}

func (s *ClaimStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
}

func TestClaimStoreSuite(t *testing.T) {
	suite.Run(t, new(ClaimStoreSuite))
}

func (s *ClaimStoreSuite) newClaim(userID id.UserID, meter string) *models.Claim {
	c := &models.Claim{
		ID:          id.NewClaimID(),
		UserID:      userID,
		MeterNumber: id.MeterNumber(meter),
		IsOwner:     true,
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
	s.now = s.now.Add(time.Second)
	return c
}

func (s *ClaimStoreSuite) TestCreateAndFind() {
	userID := id.UserID(uuid.New())

	s.Run("creates and finds by id", func() {
		c := s.newClaim(userID, "HM100001")
		s.Require().NoError(s.store.Create(s.ctx, c))

		found, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().NoError(err)
		s.Equal(c.MeterNumber, found.MeterNumber)
	})

	s.Run("finds by user and meter", func() {
		found, err := s.store.FindByUserAndMeter(s.ctx, userID, "HM100001")
		s.Require().NoError(err)
		s.Equal(userID, found.UserID)
	})

	s.Run("returns ErrNotFound for unknown id", func() {
		_, err := s.store.FindByID(s.ctx, id.NewClaimID())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ClaimStoreSuite) TestFirstClaimIsPrimary() {
	userID := id.UserID(uuid.New())

	first := s.newClaim(userID, "HM100001")
	s.Require().NoError(s.store.Create(s.ctx, first))
	s.True(first.IsPrimary, "first claim should be primary")

	second := s.newClaim(userID, "HM100002")
	s.Require().NoError(s.store.Create(s.ctx, second))
	s.False(second.IsPrimary, "later claims should not be primary")
}

func (s *ClaimStoreSuite) TestDuplicatePairConflicts() {
	userID := id.UserID(uuid.New())

	s.Require().NoError(s.store.Create(s.ctx, s.newClaim(userID, "HM100001")))

	dup := s.newClaim(userID, "HM100001")
	s.Require().ErrorIs(s.store.Create(s.ctx, dup), sentinel.ErrConflict)

	claims, err := s.store.ListByUser(s.ctx, userID)
	s.Require().NoError(err)
	s.Len(claims, 1)
}

func (s *ClaimStoreSuite) TestSetPrimarySwaps() {
	userID := id.UserID(uuid.New())
	first := s.newClaim(userID, "HM1")
	second := s.newClaim(userID, "HM2")
	s.Require().NoError(s.store.Create(s.ctx, first))
	s.Require().NoError(s.store.Create(s.ctx, second))

	s.Require().NoError(s.store.SetPrimary(s.ctx, userID, second.ID, s.now))

	claims, err := s.store.ListByUser(s.ctx, userID)
	s.Require().NoError(err)
	primaries := 0
	for _, c := range claims {
		if c.IsPrimary {
			primaries++
			s.Equal(second.ID, c.ID)
		}
	}
	s.Equal(1, primaries, "exactly one claim may be primary")
}

func (s *ClaimStoreSuite) TestSetPrimaryScope() {
	owner := id.UserID(uuid.New())
	other := id.UserID(uuid.New())
	c := s.newClaim(owner, "HM1")
	s.Require().NoError(s.store.Create(s.ctx, c))

	err := s.store.SetPrimary(s.ctx, other, c.ID, s.now)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ClaimStoreSuite) TestMarkVerifiedIsIdempotent() {
	userID := id.UserID(uuid.New())
	c := s.newClaim(userID, "HM1")
	s.Require().NoError(s.store.Create(s.ctx, c))

	firstAt := s.now
	s.Require().NoError(s.store.MarkVerified(s.ctx, c.ID, models.MethodOTP, firstAt))
	s.Require().NoError(s.store.MarkVerified(s.ctx, c.ID, models.MethodInvoice, firstAt.Add(time.Hour)))

	found, err := s.store.FindByID(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found.VerifiedAt)
	s.True(found.VerifiedAt.Equal(firstAt), "second verification must not overwrite the first")
	s.Equal(models.MethodOTP, found.VerificationMethod)
}

func (s *ClaimStoreSuite) TestDelete() {
	userID := id.UserID(uuid.New())
	c := s.newClaim(userID, "HM1")
	s.Require().NoError(s.store.Create(s.ctx, c))

	s.Run("rejects delete by another user", func() {
		err := s.store.Delete(s.ctx, id.UserID(uuid.New()), c.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("deletes own claim", func() {
		s.Require().NoError(s.store.Delete(s.ctx, userID, c.ID))
		_, err := s.store.FindByID(s.ctx, c.ID)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *ClaimStoreSuite) TestListOrderedOldestFirst() {
	userID := id.UserID(uuid.New())
	first := s.newClaim(userID, "HM1")
	second := s.newClaim(userID, "HM2")
	s.Require().NoError(s.store.Create(s.ctx, first))
	s.Require().NoError(s.store.Create(s.ctx, second))

	claims, err := s.store.ListByUser(s.ctx, userID)
	s.Require().NoError(err)
	s.Require().Len(claims, 2)
	s.Equal(first.ID, claims[0].ID)
	s.Equal(second.ID, claims[1].ID)
}
