package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"selfcare/pkg/requestcontext"
)

// Middleware throttles requests per authenticated user (falling back to the
// client IP for unauthenticated probes). Limiter errors fail open: losing
// redis must not take customer verification down with it.
func Middleware(limiter Limiter, limit int, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := requestcontext.UserID(ctx).String()
			if userID := requestcontext.UserID(ctx); userID.IsNil() {
				key = "ip:" + requestcontext.ClientIP(ctx)
			}

			result, err := limiter.Allow(ctx, key, limit, window)
			if err != nil {
				logger.WarnContext(ctx, "rate limiter unavailable, failing open",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				retryAfter := int(time.Until(result.ResetAt).Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","error_description":"too many requests"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
