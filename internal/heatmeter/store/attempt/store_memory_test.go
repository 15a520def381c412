package attempt

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

type AttemptStoreSuite struct {
	suite.Suite
	store  *InMemory
	ctx    context.Context
	now    time.Time
	userID id.UserID
	meter  id.MeterNumber
}

func (s *AttemptStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.userID = id.UserID(uuid.New())
	s.meter = "HM123456"
}

func TestAttemptStoreSuite(t *testing.T) {
	suite.Run(t, new(AttemptStoreSuite))
}

func (s *AttemptStoreSuite) newOTP(code string, createdAt time.Time) *models.Attempt {
	return &models.Attempt{
		ID:          id.NewAttemptID(),
		UserID:      s.userID,
		MeterNumber: s.meter,
		Type:        models.TypeOTP,
		Token:       code,
		ExpiresAt:   createdAt.Add(models.OTPWindow),
		CreatedAt:   createdAt,
	}
}

func (s *AttemptStoreSuite) TestSupersedeLeavesOneActive() {
	first := s.newOTP("111111", s.now)
	s.Require().NoError(s.store.SupersedeAndCreate(s.ctx, first, s.now))

	later := s.now.Add(30 * time.Second)
	second := s.newOTP("222222", later)
	s.Require().NoError(s.store.SupersedeAndCreate(s.ctx, second, later))

	active, err := s.store.FindActive(s.ctx, s.userID, s.meter, models.TypeOTP, later)
	s.Require().NoError(err)
	s.Equal(second.ID, active.ID, "only the newest challenge may be active")

	superseded, err := s.store.FindByID(s.ctx, first.ID)
	s.Require().NoError(err)
	s.False(superseded.ActiveAt(later), "superseded challenge must be force-expired")
	s.True(superseded.ExpiresAt.Equal(later))
}

func (s *AttemptStoreSuite) TestFindActiveNewestWins() {
	// Two records with the same CreatedAt; insertion order breaks the tie.
	first := s.newOTP("111111", s.now)
	second := s.newOTP("222222", s.now)
	s.Require().NoError(s.store.Create(s.ctx, first))
	s.Require().NoError(s.store.Create(s.ctx, second))

	active, err := s.store.FindActive(s.ctx, s.userID, s.meter, models.TypeOTP, s.now)
	s.Require().NoError(err)
	s.Equal(second.ID, active.ID)
}

func (s *AttemptStoreSuite) TestFindActiveExcludesLapsed() {
	a := s.newOTP("111111", s.now)
	s.Require().NoError(s.store.Create(s.ctx, a))

	s.Run("active inside the window", func() {
		_, err := s.store.FindActive(s.ctx, s.userID, s.meter, models.TypeOTP, s.now.Add(9*time.Minute))
		s.Require().NoError(err)
	})

	s.Run("inactive after expiry", func() {
		_, err := s.store.FindActive(s.ctx, s.userID, s.meter, models.TypeOTP, s.now.Add(models.OTPWindow))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *AttemptStoreSuite) TestIncrementStopsAtCap() {
	a := s.newOTP("111111", s.now)
	s.Require().NoError(s.store.Create(s.ctx, a))

	for i := 1; i <= models.MaxAttempts; i++ {
		updated, err := s.store.IncrementAttempts(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Equal(i, updated.Attempts)
	}

	_, err := s.store.IncrementAttempts(s.ctx, a.ID)
	s.Require().ErrorIs(err, sentinel.ErrExhausted)

	// The refused call must not have mutated the counter.
	found, err := s.store.FindByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(models.MaxAttempts, found.Attempts)
}

func (s *AttemptStoreSuite) TestMarkVerifiedKeepsFirstTimestamp() {
	a := s.newOTP("111111", s.now)
	s.Require().NoError(s.store.Create(s.ctx, a))

	at := s.now.Add(time.Minute)
	s.Require().NoError(s.store.MarkVerified(s.ctx, a.ID, at))
	s.Require().NoError(s.store.MarkVerified(s.ctx, a.ID, at.Add(time.Hour)))

	found, err := s.store.FindByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.Require().NotNil(found.VerifiedAt)
	s.True(found.VerifiedAt.Equal(at))
}

func (s *AttemptStoreSuite) TestExpire() {
	a := s.newOTP("111111", s.now)
	s.Require().NoError(s.store.Create(s.ctx, a))

	at := s.now.Add(time.Minute)
	s.Require().NoError(s.store.Expire(s.ctx, a.ID, at))

	found, err := s.store.FindByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.False(found.ActiveAt(at))

	// Expiring again must not push the expiry forward.
	s.Require().NoError(s.store.Expire(s.ctx, a.ID, at.Add(time.Hour)))
	found, err = s.store.FindByID(s.ctx, a.ID)
	s.Require().NoError(err)
	s.True(found.ExpiresAt.Equal(at))
}

func (s *AttemptStoreSuite) TestFindLatestIgnoresState() {
	first := s.newOTP("111111", s.now)
	s.Require().NoError(s.store.SupersedeAndCreate(s.ctx, first, s.now))

	later := s.now.Add(time.Minute)
	second := s.newOTP("222222", later)
	s.Require().NoError(s.store.SupersedeAndCreate(s.ctx, second, later))

	latest, err := s.store.FindLatest(s.ctx, s.userID, s.meter, models.TypeOTP)
	s.Require().NoError(err)
	s.Equal(second.ID, latest.ID)
}

func (s *AttemptStoreSuite) TestListPendingInvoices() {
	invoice := &models.Attempt{
		ID:          id.NewAttemptID(),
		UserID:      s.userID,
		MeterNumber: s.meter,
		Type:        models.TypeInvoice,
		Token:       uuid.NewString(),
		FilePath:    "invoices/a.pdf",
		ExpiresAt:   s.now.Add(models.InvoiceWindow),
		CreatedAt:   s.now,
	}
	s.Require().NoError(s.store.Create(s.ctx, invoice))

	verified := *invoice
	verified.ID = id.NewAttemptID()
	verified.CreatedAt = s.now.Add(time.Minute)
	s.Require().NoError(s.store.Create(s.ctx, &verified))
	s.Require().NoError(s.store.MarkVerified(s.ctx, verified.ID, s.now.Add(2*time.Minute)))

	otp := s.newOTP("111111", s.now)
	s.Require().NoError(s.store.Create(s.ctx, otp))

	pending, err := s.store.ListPendingInvoices(s.ctx, s.now.Add(time.Hour), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(invoice.ID, pending[0].ID)
}
