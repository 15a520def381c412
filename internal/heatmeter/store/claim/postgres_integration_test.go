//go:build integration

package claim_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"selfcare/internal/heatmeter/models"
	"selfcare/internal/heatmeter/store/claim"
	id "selfcare/pkg/domain"
	"selfcare/pkg/platform/sentinel"
	"selfcare/pkg/testutil/containers"
)

type PostgresClaimSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *claim.PostgresStore
}

func TestPostgresClaimSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresClaimSuite))
}

func (s *PostgresClaimSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = claim.NewPostgres(s.postgres.DB)
}

func (s *PostgresClaimSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "heatmeter_claims")
	s.Require().NoError(err)
}

func newClaim(userID id.UserID, meter string) *models.Claim {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Claim{
		ID:          id.NewClaimID(),
		UserID:      userID,
		MeterNumber: id.MeterNumber(meter),
		IsOwner:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (s *PostgresClaimSuite) TestCreateRoundTrip() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	c := newClaim(userID, "HM100001")
	s.Require().NoError(s.store.Create(ctx, c))
	s.True(c.IsPrimary, "first claim is primary")

	got, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(c.MeterNumber, got.MeterNumber)
	s.True(got.IsPrimary)
	s.Nil(got.VerifiedAt)

	second := newClaim(userID, "HM100002")
	s.Require().NoError(s.store.Create(ctx, second))
	s.False(second.IsPrimary)
}

func (s *PostgresClaimSuite) TestDuplicatePairConflicts() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	s.Require().NoError(s.store.Create(ctx, newClaim(userID, "HM200001")))
	err := s.store.Create(ctx, newClaim(userID, "HM200001"))
	s.ErrorIs(err, sentinel.ErrConflict)
}

// TestConcurrentFirstClaims verifies that concurrent first claims for one
// user never yield two primaries.
func (s *PostgresClaimSuite) TestConcurrentFirstClaims() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	const goroutines = 20

	var wg sync.WaitGroup
	var conflicts atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := newClaim(userID, fmt.Sprintf("HM3%05d", n))
			if err := s.store.Create(ctx, c); err != nil {
				if errors.Is(err, sentinel.ErrConflict) {
					conflicts.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	claims, err := s.store.ListByUser(ctx, userID)
	s.Require().NoError(err)
	s.NotEmpty(claims)

	primaries := 0
	for _, c := range claims {
		if c.IsPrimary {
			primaries++
		}
	}
	s.Equal(1, primaries, "exactly one primary regardless of interleaving")
}

func (s *PostgresClaimSuite) TestSetPrimarySwaps() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())

	first := newClaim(userID, "HM400001")
	second := newClaim(userID, "HM400002")
	s.Require().NoError(s.store.Create(ctx, first))
	s.Require().NoError(s.store.Create(ctx, second))

	s.Require().NoError(s.store.SetPrimary(ctx, userID, second.ID, time.Now().UTC()))

	claims, err := s.store.ListByUser(ctx, userID)
	s.Require().NoError(err)
	for _, c := range claims {
		s.Equal(c.ID == second.ID, c.IsPrimary)
	}
}

func (s *PostgresClaimSuite) TestSetPrimaryScopedToOwner() {
	ctx := context.Background()
	owner := id.UserID(uuid.New())
	c := newClaim(owner, "HM500001")
	s.Require().NoError(s.store.Create(ctx, c))

	err := s.store.SetPrimary(ctx, id.UserID(uuid.New()), c.ID, time.Now().UTC())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresClaimSuite) TestMarkVerifiedKeepsFirstTimestamp() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	c := newClaim(userID, "HM600001")
	s.Require().NoError(s.store.Create(ctx, c))

	first := time.Now().UTC().Truncate(time.Microsecond)
	s.Require().NoError(s.store.MarkVerified(ctx, c.ID, models.MethodOTP, first))
	s.Require().NoError(s.store.MarkVerified(ctx, c.ID, models.MethodInvoice, first.Add(time.Hour)))

	got, err := s.store.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.VerifiedAt)
	s.WithinDuration(first, *got.VerifiedAt, time.Millisecond)
	s.Equal(models.MethodOTP, got.VerificationMethod)
}

func (s *PostgresClaimSuite) TestDelete() {
	ctx := context.Background()
	userID := id.UserID(uuid.New())
	c := newClaim(userID, "HM700001")
	s.Require().NoError(s.store.Create(ctx, c))

	s.Run("other user cannot delete", func() {
		err := s.store.Delete(ctx, id.UserID(uuid.New()), c.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("owner deletes", func() {
		s.NoError(s.store.Delete(ctx, userID, c.ID))
		_, err := s.store.FindByID(ctx, c.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
