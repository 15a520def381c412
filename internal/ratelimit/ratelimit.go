// Package ratelimit throttles verification endpoints per user. It is
// defense in depth on top of the OTP engine's own attempt caps and resend
// cooldowns: a scripted client gets cut off at the transport before it can
// churn through challenge records.
package ratelimit

import (
	"context"
	"time"
)

// Result describes one allowance decision.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter answers whether one more request under key is allowed within the
// window. Implementations fail open on infrastructure errors; the caller
// decides policy.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*Result, error)
}
