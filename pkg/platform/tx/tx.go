// Package tx carries an ambient SQL transaction through context so callers
// composing several store operations can make them atomic without the
// stores knowing about each other.
package tx

import (
	"context"
	"database/sql"
)

type ctxKey struct{}

// WithTx returns a context carrying tx. Stores that support ambient
// transactions run their statements on it instead of the pool.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, tx)
}

// From extracts the ambient transaction, if any.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*sql.Tx)
	return tx, ok
}
