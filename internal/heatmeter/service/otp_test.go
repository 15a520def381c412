package service

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"selfcare/internal/audit"
	"selfcare/internal/heatmeter/models"
	id "selfcare/pkg/domain"
	dErrors "selfcare/pkg/domain-errors"
)

type OTPSuite struct {
	serviceSuite
}

func TestOTPSuite(t *testing.T) {
	suite.Run(t, new(OTPSuite))
}

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

var errGatewayDown = errors.New("gateway timeout")

// =============================================================================
// Send Tests
// =============================================================================

func (s *OTPSuite) TestSend() {
	ctx := s.at(0)
	c := s.mustClaim(ctx, "HM100001")

	s.Run("issues a six digit challenge with a ten minute window", func() {
		attempt, err := s.svc.SendOTP(ctx, s.userID, c.ID, "+38344123456")
		s.Require().NoError(err)
		s.Regexp(codePattern, attempt.Token)
		s.Equal(testBase.Add(models.OTPWindow), attempt.ExpiresAt)
		s.Equal(0, attempt.Attempts)
	})

	s.Run("delivers the code over sms", func() {
		s.Equal(1, s.sender.count())
		msg := s.sender.last()
		s.Equal("+38344123456", msg.Phone)
		s.Contains(msg.Message, s.sentCode(ctx, c.MeterNumber))
	})

	s.Run("send is audited", func() {
		s.Contains(s.actions(), audit.ActionOTPSent)
	})

	s.Run("unknown claim is not found", func() {
		_, err := s.svc.SendOTP(ctx, s.userID, id.NewClaimID(), "+38344123456")
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})

	s.Run("another user's claim reads as not found", func() {
		_, err := s.svc.SendOTP(ctx, id.UserID(uuid.New()), c.ID, "+38344123456")
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})
}

func (s *OTPSuite) TestSendSupersedesActiveChallenge() {
	ctx := s.at(0)
	c := s.mustClaim(ctx, "HM100002")

	first, err := s.svc.SendOTP(ctx, s.userID, c.ID, "+38344123456")
	s.Require().NoError(err)
	firstCode := first.Token

	later := s.at(2 * time.Minute)
	second, err := s.svc.SendOTP(later, s.userID, c.ID, "+38344123456")
	s.Require().NoError(err)

	s.Run("only the newest challenge is active", func() {
		active, err := s.attempts.FindActive(later, s.userID, c.MeterNumber, models.TypeOTP, testBase.Add(2*time.Minute))
		s.Require().NoError(err)
		s.Equal(second.ID, active.ID)
	})

	s.Run("the superseded code no longer verifies", func() {
		if firstCode == second.Token {
			s.T().Skip("codes collided; nothing to distinguish")
		}
		result, err := s.svc.VerifyOTP(later, s.userID, c.ID, firstCode)
		s.Require().NoError(err)
		s.Equal(models.OTPCodeMismatch, result)
	})
}

func (s *OTPSuite) TestResendCooldown() {
	ctx := s.at(0)
	c := s.mustClaim(ctx, "HM100003")

	_, err := s.svc.SendOTP(ctx, s.userID, c.ID, "+38344123456")
	s.Require().NoError(err)

	s.Run("resend inside sixty seconds is rate limited", func() {
		_, err := s.svc.ResendOTP(s.at(30*time.Second), s.userID, c.ID, "+38344123456")
		s.Error(err)
		s.Equal(dErrors.CodeRateLimited, dErrors.CodeOf(err))
		s.Equal(1, s.sender.count())
	})

	s.Run("resend after the cooldown issues a fresh code", func() {
		attempt, err := s.svc.ResendOTP(s.at(61*time.Second), s.userID, c.ID, "+38344123456")
		s.NoError(err)
		s.Regexp(codePattern, attempt.Token)
		s.Equal(2, s.sender.count())
		s.Contains(s.actions(), audit.ActionOTPResent)
	})

	s.Run("cooldown applies even after the prior challenge was consumed", func() {
		code := s.sentCode(ctx, c.MeterNumber)
		result, err := s.svc.VerifyOTP(s.at(62*time.Second), s.userID, c.ID, code)
		s.Require().NoError(err)
		s.Equal(models.OTPVerified, result)

		_, err = s.svc.ResendOTP(s.at(90*time.Second), s.userID, c.ID, "+38344123456")
		s.Equal(dErrors.CodeRateLimited, dErrors.CodeOf(err))
	})

	s.Run("first send is never throttled", func() {
		other := s.mustClaim(ctx, "HM100004")
		_, err := s.svc.SendOTP(ctx, s.userID, other.ID, "+38344123456")
		s.NoError(err)
	})
}

func (s *OTPSuite) TestSendDeliveryFailure() {
	ctx := s.at(0)
	c := s.mustClaim(ctx, "HM100005")
	s.sender.err = errGatewayDown

	_, err := s.svc.SendOTP(ctx, s.userID, c.ID, "+38344123456")
	s.Require().Error(err)
	s.Equal(dErrors.CodeDeliveryFailed, dErrors.CodeOf(err))
	s.True(errors.Is(err, errGatewayDown))

	s.Run("the challenge record survives the failed delivery", func() {
		latest, err := s.attempts.FindLatest(ctx, s.userID, c.MeterNumber, models.TypeOTP)
		s.NoError(err)
		s.Regexp(codePattern, latest.Token)
	})

	s.Run("the failure is audited", func() {
		s.Contains(s.actions(), audit.ActionDeliveryFailure)
	})
}

// =============================================================================
// Verify Tests
// =============================================================================

func (s *OTPSuite) TestVerifySuccess() {
	ctx := s.at(0)
	c := s.mustClaim(ctx, "HM200001")
	_, err := s.svc.SendOTP(ctx, s.userID, c.ID, "+38344123456")
	s.Require().NoError(err)
	code := s.sentCode(ctx, c.MeterNumber)

	verifyAt := s.at(5 * time.Minute)
	result, err := s.svc.VerifyOTP(verifyAt, s.userID, c.ID, code)
	s.Require().NoError(err)
	s.Equal(models.OTPVerified, result)
	s.True(result.Ok())

	s.Run("the claim is verified with method otp", func() {
		verified, err := s.claims.FindByID(verifyAt, c.ID)
		s.Require().NoError(err)
		s.True(verified.Verified())
		s.Equal(models.MethodOTP, verified.VerificationMethod)
		s.Equal(testBase.Add(5*time.Minute), *verified.VerifiedAt)
	})

	s.Run("the challenge record is marked verified", func() {
		latest, err := s.attempts.FindLatest(verifyAt, s.userID, c.MeterNumber, models.TypeOTP)
		s.Require().NoError(err)
		s.True(latest.Verified())
	})

	s.Run("success consumes an attempt", func() {
		latest, err := s.attempts.FindLatest(verifyAt, s.userID, c.MeterNumber, models.TypeOTP)
		s.Require().NoError(err)
		s.Equal(1, latest.Attempts)
	})

	s.Run("the verified challenge cannot be replayed", func() {
		result, err := s.svc.VerifyOTP(verifyAt, s.userID, c.ID, code)
		s.Require().NoError(err)
		s.Equal(models.OTPNoActiveChallenge, result)
	})

	s.Run("the outcome is audited", func() {
		s.Contains(s.actions(), audit.ActionOTPVerified)
	})
}

func (s *OTPSuite) TestVerifyMismatchAndExhaustion() {
	ctx := s.at(0)
	c := s.mustClaim(ctx, "HM200002")
	_, err := s.svc.SendOTP(ctx, s.userID, c.ID, "+38344123456")
	s.Require().NoError(err)
	code := s.sentCode(ctx, c.MeterNumber)

	s.Run("wrong codes count against the cap", func() {
		for i := 0; i < models.MaxAttempts-1; i++ {
			result, err := s.svc.VerifyOTP(ctx, s.userID, c.ID, "000000")
			s.Require().NoError(err)
			s.Equal(models.OTPCodeMismatch, result)
		}
	})

	s.Run("the final wrong guess reports exhausted", func() {
		result, err := s.svc.VerifyOTP(ctx, s.userID, c.ID, "000000")
		s.Require().NoError(err)
		s.Equal(models.OTPExhausted, result)
	})

	s.Run("the correct code is refused once the cap is spent", func() {
		result, err := s.svc.VerifyOTP(ctx, s.userID, c.ID, code)
		s.Require().NoError(err)
		s.Equal(models.OTPExhausted, result)

		latest, err := s.attempts.FindLatest(ctx, s.userID, c.MeterNumber, models.TypeOTP)
		s.Require().NoError(err)
		s.Equal(models.MaxAttempts, latest.Attempts)
	})

	s.Run("the claim stays unverified", func() {
		claim, err := s.claims.FindByID(ctx, c.ID)
		s.Require().NoError(err)
		s.False(claim.Verified())
	})

	s.Run("rejections are audited", func() {
		s.Contains(s.actions(), audit.ActionOTPRejected)
	})
}

func (s *OTPSuite) TestVerifyExpiredChallenge() {
	ctx := s.at(0)
	c := s.mustClaim(ctx, "HM200003")
	_, err := s.svc.SendOTP(ctx, s.userID, c.ID, "+38344123456")
	s.Require().NoError(err)
	code := s.sentCode(ctx, c.MeterNumber)

	result, err := s.svc.VerifyOTP(s.at(models.OTPWindow+time.Second), s.userID, c.ID, code)
	s.Require().NoError(err)
	s.Equal(models.OTPNoActiveChallenge, result)

	// An expired record does not read as exhausted.
	claim, err := s.claims.FindByID(ctx, c.ID)
	s.Require().NoError(err)
	s.False(claim.Verified())
}

func (s *OTPSuite) TestVerifyWithoutChallenge() {
	ctx := s.at(0)
	c := s.mustClaim(ctx, "HM200004")

	result, err := s.svc.VerifyOTP(ctx, s.userID, c.ID, "123456")
	s.Require().NoError(err)
	s.Equal(models.OTPNoActiveChallenge, result)
}

func (s *OTPSuite) TestVerifyScopedToOwner() {
	ctx := s.at(0)
	c := s.mustClaim(ctx, "HM200005")
	_, err := s.svc.SendOTP(ctx, s.userID, c.ID, "+38344123456")
	s.Require().NoError(err)
	code := s.sentCode(ctx, c.MeterNumber)

	_, err = s.svc.VerifyOTP(ctx, id.UserID(uuid.New()), c.ID, code)
	s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
}

// =============================================================================
// Code Generation
// =============================================================================

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 200; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		assert.Regexp(t, codePattern, code)
		assert.NotEqual(t, "0", code[:1], "codes never start with zero")
	}
}
