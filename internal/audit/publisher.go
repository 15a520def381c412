package audit

import (
	"context"
	"log/slog"

	"selfcare/pkg/requestcontext"
)

// Publisher enriches events from request context and appends them.
// Emission is fail-open: a broken audit sink is logged, never allowed to
// fail the verification operation it annotates.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, logger: logger}
}

func (p *Publisher) Emit(ctx context.Context, e Event) {
	if p == nil || p.store == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = requestcontext.Now(ctx)
	}
	if e.RequestID == "" {
		e.RequestID = requestcontext.RequestID(ctx)
	}
	if e.ClientIP == "" {
		e.ClientIP = requestcontext.ClientIP(ctx)
	}
	if e.Device == "" {
		e.Device = requestcontext.Device(ctx)
	}
	if err := p.store.Append(ctx, e); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed",
			"action", e.Action,
			"error", err,
		)
	}
}
