package claim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"selfcare/internal/heatmeter/models"
	id "selfcare/pkg/domain"
	"selfcare/pkg/platform/sentinel"
	pgtx "selfcare/pkg/platform/tx"
)

// PostgresStore persists heatmeter claims in PostgreSQL.
// This store is pure I/O; precondition checks (verified target, primary
// deletion guard) belong in the service. What the store does own is
// atomicity: the invariants "one primary per user" and "first claim is
// primary" cannot be raced past it.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q joins an ambient transaction when the caller carries one in context.
// SetPrimary manages its own transaction and always runs on the pool.
func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := pgtx.From(ctx); ok {
		return tx
	}
	return s.db
}

const uniqueViolation = "23505"

// Create inserts a new claim. IsPrimary is computed inside the INSERT so
// two concurrent first claims cannot both become primary; the partial
// unique index on (user_id) WHERE is_primary backstops it.
func (s *PostgresStore) Create(ctx context.Context, c *models.Claim) error {
	query := `
		INSERT INTO heatmeter_claims (id, user_id, meter_number, is_owner, is_primary, created_at, updated_at)
		VALUES ($1, $2, $3, $4,
			NOT EXISTS (SELECT 1 FROM heatmeter_claims WHERE user_id = $2),
			$5, $5)
		RETURNING is_primary
	`
	err := s.q(ctx).QueryRowContext(ctx, query,
		uuid.UUID(c.ID), uuid.UUID(c.UserID), string(c.MeterNumber), c.IsOwner, c.CreatedAt,
	).Scan(&c.IsPrimary)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, claimID id.ClaimID) (*models.Claim, error) {
	query := selectClaim + ` WHERE id = $1`
	c, err := scanClaim(s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(claimID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find claim by id: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) FindByUserAndMeter(ctx context.Context, userID id.UserID, meter id.MeterNumber) (*models.Claim, error) {
	query := selectClaim + ` WHERE user_id = $1 AND meter_number = $2`
	c, err := scanClaim(s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(userID), string(meter)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find claim by user and meter: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]*models.Claim, error) {
	query := selectClaim + ` WHERE user_id = $1 ORDER BY created_at ASC`
	rows, err := s.q(ctx).QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var out []*models.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountByUser(ctx context.Context, userID id.UserID) (int, error) {
	var n int
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM heatmeter_claims WHERE user_id = $1`, uuid.UUID(userID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count claims: %w", err)
	}
	return n, nil
}

// SetPrimary clears the current primary and promotes the target in a single
// transaction so no interleaving can observe two primaries.
func (s *PostgresStore) SetPrimary(ctx context.Context, userID id.UserID, claimID id.ClaimID, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set primary: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		UPDATE heatmeter_claims SET is_primary = FALSE, updated_at = $2
		WHERE user_id = $1 AND is_primary
	`, uuid.UUID(userID), at)
	if err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE heatmeter_claims SET is_primary = TRUE, updated_at = $3
		WHERE id = $1 AND user_id = $2
	`, uuid.UUID(claimID), uuid.UUID(userID), at)
	if err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set primary rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set primary: %w", err)
	}
	return nil
}

// MarkVerified sets verified_at/verification_method once; re-verifying an
// already-verified claim is a no-op.
func (s *PostgresStore) MarkVerified(ctx context.Context, claimID id.ClaimID, method models.VerificationMethod, at time.Time) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE heatmeter_claims
		SET verified_at = $2, verification_method = $3, updated_at = $2
		WHERE id = $1 AND verified_at IS NULL
	`, uuid.UUID(claimID), at, string(method))
	if err != nil {
		return fmt.Errorf("mark claim verified: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark claim verified rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := s.q(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM heatmeter_claims WHERE id = $1)`, uuid.UUID(claimID),
		).Scan(&exists); err != nil {
			return fmt.Errorf("mark claim verified existence check: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID id.UserID, claimID id.ClaimID) error {
	result, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM heatmeter_claims WHERE id = $1 AND user_id = $2`,
		uuid.UUID(claimID), uuid.UUID(userID))
	if err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete claim rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const selectClaim = `
	SELECT id, user_id, meter_number, is_owner, is_primary, verified_at, verification_method, created_at, updated_at
	FROM heatmeter_claims`

type claimRow interface {
	Scan(dest ...any) error
}

func scanClaim(row claimRow) (*models.Claim, error) {
	var (
		c          models.Claim
		claimID    uuid.UUID
		userID     uuid.UUID
		meter      string
		verifiedAt sql.NullTime
		method     sql.NullString
	)
	if err := row.Scan(&claimID, &userID, &meter, &c.IsOwner, &c.IsPrimary, &verifiedAt, &method, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.ID = id.ClaimID(claimID)
	c.UserID = id.UserID(userID)
	c.MeterNumber = id.MeterNumber(meter)
	if verifiedAt.Valid {
		c.VerifiedAt = &verifiedAt.Time
	}
	if method.Valid {
		c.VerificationMethod = models.VerificationMethod(method.String)
	}
	return &c, nil
}
