package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"

	"selfcare/internal/audit"
	"selfcare/internal/heatmeter/models"
	"selfcare/internal/storage"
	id "selfcare/pkg/domain"
	dErrors "selfcare/pkg/domain-errors"
	"selfcare/pkg/requestcontext"
)

// UploadInvoice stores an uploaded invoice document, records a verification
// attempt, and runs OCR extraction. An extracted meter number that exactly
// matches the claim auto-verifies it; anything else, including an OCR
// failure or timeout, lands in the manual review queue. OCR trouble is never
// surfaced to the user — pending review is a valid outcome, not an error.
func (s *Service) UploadInvoice(ctx context.Context, userID id.UserID, claimID id.ClaimID, contentType string, file io.Reader) (*models.Attempt, models.UploadOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "invoice.upload")
	defer span.End()
	start := time.Now()

	c, err := s.ownedClaim(ctx, userID, claimID)
	if err != nil {
		return nil, "", err
	}

	path, err := s.files.Save(ctx, contentType, file)
	if err != nil {
		if errors.Is(err, storage.ErrFileTooLarge) || errors.Is(err, storage.ErrUnsupportedType) {
			return nil, "", dErrors.Wrap(err, dErrors.CodeInvalidInput, err.Error())
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store document")
	}

	now := requestcontext.Now(ctx)
	attempt := &models.Attempt{
		ID:          id.NewAttemptID(),
		UserID:      userID,
		MeterNumber: c.MeterNumber,
		Type:        models.TypeInvoice,
		// Reference token for audit and reviewer lookups, never matching.
		Token:     uuid.NewString(),
		FilePath:  path,
		ExpiresAt: now.Add(models.InvoiceWindow),
		CreatedAt: now,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to record upload")
	}
	s.emit(ctx, audit.Event{
		UserID:      userID,
		MeterNumber: c.MeterNumber,
		Action:      audit.ActionInvoiceUploaded,
	})

	extraction, ocrErr := s.ocr.Extract(ctx, path)
	if ocrErr != nil {
		s.logger.WarnContext(ctx, "ocr extraction failed, routing to manual review",
			"request_id", requestcontext.RequestID(ctx),
			"claim_id", claimID,
			"error", ocrErr,
		)
		s.metrics.IncrementOCRFailures()
		s.emit(ctx, audit.Event{
			UserID:      userID,
			MeterNumber: c.MeterNumber,
			Action:      audit.ActionExtractionFailure,
			Detail:      "extraction error",
		})
		s.metrics.ObserveUpload(string(models.UploadPendingReview), start)
		s.emitPending(ctx, userID, c.MeterNumber, "ocr failure")
		return attempt, models.UploadPendingReview, nil
	}

	// Exact, case-sensitive match only. Normalization would let a reviewer
	// decision be skipped on a near-miss.
	if extraction.MeterNumber == "" || extraction.MeterNumber != string(c.MeterNumber) {
		s.metrics.ObserveUpload(string(models.UploadPendingReview), start)
		s.emitPending(ctx, userID, c.MeterNumber, "meter number mismatch")
		return attempt, models.UploadPendingReview, nil
	}

	if err := s.attempts.MarkVerified(ctx, attempt.ID, now); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark attempt verified")
	}
	if err := s.markVerified(ctx, userID, c.MeterNumber, models.MethodInvoice); err != nil {
		return nil, "", err
	}

	s.emit(ctx, audit.Event{
		UserID:      userID,
		MeterNumber: c.MeterNumber,
		Action:      audit.ActionInvoiceAutoOK,
	})
	s.metrics.ObserveUpload(string(models.UploadAutoVerified), start)
	s.logger.InfoContext(ctx, "invoice auto-verified",
		"request_id", requestcontext.RequestID(ctx),
		"claim_id", claimID,
	)
	verifiedAt := now
	attempt.VerifiedAt = &verifiedAt
	return attempt, models.UploadAutoVerified, nil
}

func (s *Service) emitPending(ctx context.Context, userID id.UserID, meter id.MeterNumber, reason string) {
	s.emit(ctx, audit.Event{
		UserID:      userID,
		MeterNumber: meter,
		Action:      audit.ActionInvoicePending,
		Detail:      reason,
	})
}
