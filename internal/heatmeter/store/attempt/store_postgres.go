package attempt

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"selfcare/internal/heatmeter/models"
	id "selfcare/pkg/domain"
	"selfcare/pkg/platform/sentinel"
	pgtx "selfcare/pkg/platform/tx"
)

// PostgresStore persists verification attempts in PostgreSQL. Rows are never
// deleted; they are the audit trail for every challenge ever issued.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q joins an ambient transaction when the caller carries one in context.
// SupersedeAndCreate manages its own transaction and always runs on the pool.
func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := pgtx.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, a *models.Attempt) error {
	if err := insertAttempt(ctx, s.q(ctx), a); err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

// SupersedeAndCreate runs force-expire plus insert in one transaction so at
// most one record of the type is active per (user, meter) at any instant.
// The advisory lock serializes concurrent sends for the same challenge
// scope: the force-expire only sees committed rows, so without it two
// transactions could each find nothing to expire and both insert an active
// record.
func (s *PostgresStore) SupersedeAndCreate(ctx context.Context, a *models.Attempt, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin supersede: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || ':' || $2 || ':' || $3))`,
		uuid.UUID(a.UserID).String(), string(a.MeterNumber), string(a.Type))
	if err != nil {
		return fmt.Errorf("lock challenge scope: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE verification_attempts
		SET expires_at = $4
		WHERE user_id = $1 AND meter_number = $2 AND type = $3
		  AND verified_at IS NULL AND expires_at > $4 AND attempts < $5
	`, uuid.UUID(a.UserID), string(a.MeterNumber), string(a.Type), now, models.MaxAttempts)
	if err != nil {
		return fmt.Errorf("supersede active attempts: %w", err)
	}

	if err := insertAttempt(ctx, tx, a); err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit supersede: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindActive(ctx context.Context, userID id.UserID, meter id.MeterNumber, typ models.AttemptType, now time.Time) (*models.Attempt, error) {
	query := selectAttempt + `
		WHERE user_id = $1 AND meter_number = $2 AND type = $3
		  AND verified_at IS NULL AND expires_at > $4 AND attempts < $5
		ORDER BY created_at DESC
		LIMIT 1`
	a, err := scanAttempt(s.q(ctx).QueryRowContext(ctx, query,
		uuid.UUID(userID), string(meter), string(typ), now, models.MaxAttempts))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find active attempt: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) FindLatest(ctx context.Context, userID id.UserID, meter id.MeterNumber, typ models.AttemptType) (*models.Attempt, error) {
	query := selectAttempt + `
		WHERE user_id = $1 AND meter_number = $2 AND type = $3
		ORDER BY created_at DESC
		LIMIT 1`
	a, err := scanAttempt(s.q(ctx).QueryRowContext(ctx, query,
		uuid.UUID(userID), string(meter), string(typ)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find latest attempt: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, attemptID id.AttemptID) (*models.Attempt, error) {
	query := selectAttempt + ` WHERE id = $1`
	a, err := scanAttempt(s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(attemptID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find attempt by id: %w", err)
	}
	return a, nil
}

// IncrementAttempts is a single conditional UPDATE ... RETURNING so the cap
// cannot be raced past by concurrent guesses. A zero-row update means the
// cap was already consumed: sentinel.ErrExhausted, nothing mutated.
func (s *PostgresStore) IncrementAttempts(ctx context.Context, attemptID id.AttemptID) (*models.Attempt, error) {
	query := `
		UPDATE verification_attempts
		SET attempts = attempts + 1
		WHERE id = $1 AND attempts < $2
		RETURNING id, user_id, meter_number, type, token, file_path, expires_at, attempts, verified_at, created_at
	`
	a, err := scanAttempt(s.q(ctx).QueryRowContext(ctx, query, uuid.UUID(attemptID), models.MaxAttempts))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if err := s.q(ctx).QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM verification_attempts WHERE id = $1)`, uuid.UUID(attemptID),
			).Scan(&exists); err != nil {
				return nil, fmt.Errorf("increment attempts existence check: %w", err)
			}
			if !exists {
				return nil, sentinel.ErrNotFound
			}
			return nil, sentinel.ErrExhausted
		}
		return nil, fmt.Errorf("increment attempts: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) MarkVerified(ctx context.Context, attemptID id.AttemptID, at time.Time) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE verification_attempts SET verified_at = $2
		WHERE id = $1 AND verified_at IS NULL
	`, uuid.UUID(attemptID), at)
	if err != nil {
		return fmt.Errorf("mark attempt verified: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark attempt verified rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := s.q(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM verification_attempts WHERE id = $1)`, uuid.UUID(attemptID),
		).Scan(&exists); err != nil {
			return fmt.Errorf("mark attempt verified existence check: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
	}
	return nil
}

// Expire forces an attempt out of the active set without touching records
// that already lapsed.
func (s *PostgresStore) Expire(ctx context.Context, attemptID id.AttemptID, at time.Time) error {
	result, err := s.q(ctx).ExecContext(ctx, `
		UPDATE verification_attempts SET expires_at = $2
		WHERE id = $1 AND expires_at > $2
	`, uuid.UUID(attemptID), at)
	if err != nil {
		return fmt.Errorf("expire attempt: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("expire attempt rows affected: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := s.q(ctx).QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM verification_attempts WHERE id = $1)`, uuid.UUID(attemptID),
		).Scan(&exists); err != nil {
			return fmt.Errorf("expire attempt existence check: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
	}
	return nil
}

func (s *PostgresStore) ListPendingInvoices(ctx context.Context, now time.Time, limit int) ([]*models.Attempt, error) {
	query := selectAttempt + `
		WHERE type = $1 AND verified_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT $3`
	rows, err := s.q(ctx).QueryContext(ctx, query, string(models.TypeInvoice), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending invoices: %w", err)
	}
	defer rows.Close()

	var out []*models.Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending invoices: %w", err)
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAttempt(ctx context.Context, db execer, a *models.Attempt) error {
	var filePath any
	if a.FilePath != "" {
		filePath = a.FilePath
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO verification_attempts (id, user_id, meter_number, type, token, file_path, expires_at, attempts, verified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, $9)
	`, uuid.UUID(a.ID), uuid.UUID(a.UserID), string(a.MeterNumber), string(a.Type),
		a.Token, filePath, a.ExpiresAt, a.Attempts, a.CreatedAt)
	return err
}

const selectAttempt = `
	SELECT id, user_id, meter_number, type, token, file_path, expires_at, attempts, verified_at, created_at
	FROM verification_attempts`

type attemptRow interface {
	Scan(dest ...any) error
}

func scanAttempt(row attemptRow) (*models.Attempt, error) {
	var (
		a          models.Attempt
		attemptID  uuid.UUID
		userID     uuid.UUID
		meter      string
		typ        string
		filePath   sql.NullString
		verifiedAt sql.NullTime
	)
	if err := row.Scan(&attemptID, &userID, &meter, &typ, &a.Token, &filePath, &a.ExpiresAt, &a.Attempts, &verifiedAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.ID = id.AttemptID(attemptID)
	a.UserID = id.UserID(userID)
	a.MeterNumber = id.MeterNumber(meter)
	a.Type = models.AttemptType(typ)
	if filePath.Valid {
		a.FilePath = filePath.String
	}
	if verifiedAt.Valid {
		a.VerifiedAt = &verifiedAt.Time
	}
	return &a, nil
}
