// Package service implements heatmeter ownership verification: the claim
// registry, the OTP challenge engine, and the invoice verification engine.
// All state lives behind the store interfaces; collaborators (SMS, OCR,
// file storage) are injected capabilities.
package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"selfcare/internal/audit"
	"selfcare/internal/heatmeter/metrics"
	"selfcare/internal/heatmeter/models"
	"selfcare/internal/ocr"
	"selfcare/internal/sms"
	"selfcare/internal/storage"
	id "selfcare/pkg/domain"
)

// ClaimStore persists heatmeter ownership claims.
type ClaimStore interface {
	Create(ctx context.Context, c *models.Claim) error
	FindByID(ctx context.Context, claimID id.ClaimID) (*models.Claim, error)
	FindByUserAndMeter(ctx context.Context, userID id.UserID, meter id.MeterNumber) (*models.Claim, error)
	ListByUser(ctx context.Context, userID id.UserID) ([]*models.Claim, error)
	CountByUser(ctx context.Context, userID id.UserID) (int, error)
	SetPrimary(ctx context.Context, userID id.UserID, claimID id.ClaimID, at time.Time) error
	MarkVerified(ctx context.Context, claimID id.ClaimID, method models.VerificationMethod, at time.Time) error
	Delete(ctx context.Context, userID id.UserID, claimID id.ClaimID) error
}

// AttemptStore persists verification challenge records. Records are
// audit-retained: implementations never delete.
type AttemptStore interface {
	Create(ctx context.Context, a *models.Attempt) error
	SupersedeAndCreate(ctx context.Context, a *models.Attempt, now time.Time) error
	FindActive(ctx context.Context, userID id.UserID, meter id.MeterNumber, typ models.AttemptType, now time.Time) (*models.Attempt, error)
	FindLatest(ctx context.Context, userID id.UserID, meter id.MeterNumber, typ models.AttemptType) (*models.Attempt, error)
	FindByID(ctx context.Context, attemptID id.AttemptID) (*models.Attempt, error)
	IncrementAttempts(ctx context.Context, attemptID id.AttemptID) (*models.Attempt, error)
	MarkVerified(ctx context.Context, attemptID id.AttemptID, at time.Time) error
	Expire(ctx context.Context, attemptID id.AttemptID, at time.Time) error
	ListPendingInvoices(ctx context.Context, now time.Time, limit int) ([]*models.Attempt, error)
}

// AuditPublisher records verification trail events. Emission is fail-open.
type AuditPublisher interface {
	Emit(ctx context.Context, e audit.Event)
}

// Service orchestrates the registry and both verification engines.
type Service struct {
	claims   ClaimStore
	attempts AttemptStore
	sender   sms.Sender
	ocr      ocr.Extractor
	files    storage.FileStore
	logger   *slog.Logger
	auditor  AuditPublisher
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service. SMS, OCR, and file storage collaborators are
// required; pass sms.LogSender / ocr.Disabled for environments without the
// real backends.
func New(claims ClaimStore, attempts AttemptStore, sender sms.Sender, extractor ocr.Extractor, files storage.FileStore, opts ...Option) *Service {
	s := &Service{
		claims:   claims,
		attempts: attempts,
		sender:   sender,
		ocr:      extractor,
		files:    files,
		logger:   slog.Default(),
		tracer:   otel.Tracer("selfcare/heatmeter"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) emit(ctx context.Context, e audit.Event) {
	if s.auditor == nil {
		return
	}
	s.auditor.Emit(ctx, e)
}
