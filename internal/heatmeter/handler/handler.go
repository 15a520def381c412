// Package handler exposes the heatmeter verification API over HTTP. It is a
// thin translation layer: decode, delegate to the service, encode. Business
// rules live below it.
package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"selfcare/internal/heatmeter/models"
	"selfcare/internal/platform/middleware"
	"selfcare/internal/storage"
	id "selfcare/pkg/domain"
	dErrors "selfcare/pkg/domain-errors"
	"selfcare/pkg/platform/httputil"
	"selfcare/pkg/requestcontext"
)

const defaultReviewLimit = 50

// Service defines the verification operations the handler delegates to.
type Service interface {
	Claim(ctx context.Context, userID id.UserID, meter id.MeterNumber, isOwner bool) (*models.ClaimResult, error)
	List(ctx context.Context, userID id.UserID) ([]*models.Claim, error)
	SetPrimary(ctx context.Context, userID id.UserID, claimID id.ClaimID) (*models.Claim, error)
	Remove(ctx context.Context, userID id.UserID, claimID id.ClaimID) error

	SendOTP(ctx context.Context, userID id.UserID, claimID id.ClaimID, phone string) (*models.Attempt, error)
	ResendOTP(ctx context.Context, userID id.UserID, claimID id.ClaimID, phone string) (*models.Attempt, error)
	VerifyOTP(ctx context.Context, userID id.UserID, claimID id.ClaimID, code string) (models.OTPVerifyResult, error)

	UploadInvoice(ctx context.Context, userID id.UserID, claimID id.ClaimID, contentType string, file io.Reader) (*models.Attempt, models.UploadOutcome, error)
	PendingReviews(ctx context.Context, limit int) ([]*models.Attempt, error)
	ApproveReview(ctx context.Context, actorID string, attemptID id.AttemptID) error
	RejectReview(ctx context.Context, actorID string, attemptID id.AttemptID, reason string) error
}

// Handler wires the verification endpoints to the service.
type Handler struct {
	service      Service
	logger       *slog.Logger
	jwtValidator middleware.JWTValidator
	adminToken   string
	// throttle is the per-user rate limit middleware, or nil to disable.
	throttle func(http.Handler) http.Handler
}

type Option func(h *Handler)

// WithThrottle installs a rate limit middleware on the user-facing routes.
func WithThrottle(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.throttle = mw
	}
}

func New(service Service, logger *slog.Logger, jwtValidator middleware.JWTValidator, adminToken string, opts ...Option) *Handler {
	h := &Handler{
		service:      service,
		logger:       logger,
		jwtValidator: jwtValidator,
		adminToken:   adminToken,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the verification routes with their middleware chains.
func (h *Handler) Register(r chi.Router) {
	user := chi.NewRouter()
	user.Use(middleware.Recovery(h.logger))
	user.Use(middleware.RequestID)
	user.Use(middleware.RequestTime)
	user.Use(middleware.ClientMetadata)
	user.Use(middleware.Logger(h.logger))
	user.Use(middleware.Timeout(30 * time.Second))
	user.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
	// After auth, so the limiter keys by user ID rather than client IP.
	if h.throttle != nil {
		user.Use(h.throttle)
	}

	user.Post("/heatmeters", h.handleClaim)
	user.Get("/heatmeters", h.handleList)
	user.Post("/heatmeters/{id}/verify/otp/send", h.handleSendOTP)
	user.Post("/heatmeters/{id}/verify/otp/resend", h.handleResendOTP)
	user.Post("/heatmeters/{id}/verify/otp/verify", h.handleVerifyOTP)
	user.Post("/heatmeters/{id}/verify/invoice", h.handleUploadInvoice)
	user.Post("/heatmeters/{id}/set-primary", h.handleSetPrimary)
	user.Delete("/heatmeters/{id}", h.handleRemove)

	admin := chi.NewRouter()
	admin.Use(middleware.Recovery(h.logger))
	admin.Use(middleware.RequestID)
	admin.Use(middleware.RequestTime)
	admin.Use(middleware.Logger(h.logger))
	admin.Use(middleware.Timeout(30 * time.Second))
	admin.Use(middleware.RequireAdminToken(h.adminToken, h.logger))

	admin.Get("/verifications/pending", h.handlePendingReviews)
	admin.Post("/verifications/{id}/approve", h.handleApproveReview)
	admin.Post("/verifications/{id}/reject", h.handleRejectReview)

	r.Mount("/", user)
	r.Mount("/admin", admin)
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[claimRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	meter, err := id.ParseMeterNumber(req.MeterNumber)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	result, err := h.service.Claim(ctx, userID, meter, req.IsOwner)
	if err != nil {
		h.logError(ctx, "claim failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, toClaimResponse(result.Claim))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}

	claims, err := h.service.List(ctx, userID)
	if err != nil {
		h.logError(ctx, "list failed", requestcontext.RequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}

	out := make([]claimResponse, 0, len(claims))
	for _, c := range claims {
		out = append(out, toClaimResponse(c))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"heatmeters": out})
}

func (h *Handler) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	h.issueOTP(w, r, false)
}

func (h *Handler) handleResendOTP(w http.ResponseWriter, r *http.Request) {
	h.issueOTP(w, r, true)
}

func (h *Handler) issueOTP(w http.ResponseWriter, r *http.Request, resend bool) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}
	claimID, ok := h.claimIDParam(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[sendOTPRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var (
		attempt *models.Attempt
		err     error
	)
	if resend {
		attempt, err = h.service.ResendOTP(ctx, userID, claimID, req.Phone)
	} else {
		attempt, err = h.service.SendOTP(ctx, userID, claimID, req.Phone)
	}
	if err != nil {
		h.logError(ctx, "otp send failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusAccepted, challengeResponse{
		AttemptID: attempt.ID.String(),
		ExpiresAt: attempt.ExpiresAt,
	})
}

func (h *Handler) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}
	claimID, ok := h.claimIDParam(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[verifyOTPRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.VerifyOTP(ctx, userID, claimID, req.Code)
	if err != nil {
		h.logError(ctx, "otp verify failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		Status:   string(result),
		Verified: result.Ok(),
	})
}

func (h *Handler) handleUploadInvoice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}
	claimID, ok := h.claimIDParam(w, r)
	if !ok {
		return
	}

	// Leave headroom over the document cap for the multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxUploadBytes+(1<<20))
	file, header, err := r.FormFile("invoice")
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "multipart field 'invoice' is required"))
		return
	}
	defer file.Close()

	attempt, outcome, err := h.service.UploadInvoice(ctx, userID, claimID, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.logError(ctx, "invoice upload failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, uploadResponse{
		Outcome:   string(outcome),
		AttemptID: attempt.ID.String(),
		ExpiresAt: attempt.ExpiresAt,
	})
}

func (h *Handler) handleSetPrimary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}
	claimID, ok := h.claimIDParam(w, r)
	if !ok {
		return
	}

	c, err := h.service.SetPrimary(ctx, userID, claimID)
	if err != nil {
		h.logError(ctx, "set primary failed", requestcontext.RequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toClaimResponse(c))
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}
	claimID, ok := h.claimIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.Remove(ctx, userID, claimID); err != nil {
		h.logError(ctx, "remove failed", requestcontext.RequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePendingReviews(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := defaultReviewLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer"))
			return
		}
		limit = n
	}

	pending, err := h.service.PendingReviews(ctx, limit)
	if err != nil {
		h.logError(ctx, "pending reviews failed", requestcontext.RequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}

	out := make([]pendingReviewResponse, 0, len(pending))
	for _, a := range pending {
		out = append(out, toPendingReviewResponse(a))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"pending": out})
}

func (h *Handler) handleApproveReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attemptID, ok := h.attemptIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.ApproveReview(ctx, h.actorID(r), attemptID); err != nil {
		h.logError(ctx, "review approve failed", requestcontext.RequestID(ctx), err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRejectReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	attemptID, ok := h.attemptIDParam(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[rejectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	if err := h.service.RejectReview(ctx, h.actorID(r), attemptID, req.Reason); err != nil {
		h.logError(ctx, "review reject failed", requestID, err)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) requireUser(w http.ResponseWriter, ctx context.Context) (id.UserID, bool) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		// RequireAuth guards every route that reaches here.
		h.logger.ErrorContext(ctx, "user missing from context despite auth middleware",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return id.UserID{}, false
	}
	return userID, true
}

func (h *Handler) claimIDParam(w http.ResponseWriter, r *http.Request) (id.ClaimID, bool) {
	claimID, err := id.ParseClaimID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.ClaimID{}, false
	}
	return claimID, true
}

func (h *Handler) attemptIDParam(w http.ResponseWriter, r *http.Request) (id.AttemptID, bool) {
	attemptID, err := id.ParseAttemptID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.AttemptID{}, false
	}
	return attemptID, true
}

// actorID identifies the reviewer behind the shared admin token.
func (h *Handler) actorID(r *http.Request) string {
	if actor := r.Header.Get("X-Admin-Actor"); actor != "" {
		return actor
	}
	return "admin"
}

func (h *Handler) logError(ctx context.Context, msg, requestID string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestID, "error", err)
		return
	}
	h.logger.WarnContext(ctx, msg, "request_id", requestID, "error", err)
}
