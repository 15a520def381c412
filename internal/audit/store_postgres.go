package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "selfcare/pkg/domain"
)

// PostgresStore persists audit events. Pure I/O, append-only.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO verification_audit (ts, user_id, meter_number, action, detail, request_id, client_ip, device, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.Timestamp, uuid.UUID(e.UserID), string(e.MeterNumber), string(e.Action),
		e.Detail, e.RequestID, e.ClientIP, e.Device, e.ActorID)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, user_id, meter_number, action, detail, request_id, client_ip, device, actor_id
		FROM verification_audit
		WHERE user_id = $1
		ORDER BY ts ASC
	`, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e   Event
			uid uuid.UUID
		)
		var meter, action string
		if err := rows.Scan(&e.Timestamp, &uid, &meter, &action, &e.Detail, &e.RequestID, &e.ClientIP, &e.Device, &e.ActorID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.UserID = id.UserID(uid)
		e.MeterNumber = id.MeterNumber(meter)
		e.Action = Action(action)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
