//go:build integration

package containers

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema mirrors the production migrations for the verification tables.
const schema = `
CREATE TABLE IF NOT EXISTS heatmeter_claims (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	meter_number TEXT NOT NULL,
	is_owner BOOLEAN NOT NULL DEFAULT FALSE,
	is_primary BOOLEAN NOT NULL DEFAULT FALSE,
	verified_at TIMESTAMPTZ,
	verification_method TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (user_id, meter_number)
);

CREATE UNIQUE INDEX IF NOT EXISTS heatmeter_claims_one_primary_per_user
	ON heatmeter_claims (user_id) WHERE is_primary;

CREATE TABLE IF NOT EXISTS verification_attempts (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	meter_number TEXT NOT NULL,
	type TEXT NOT NULL,
	token TEXT NOT NULL,
	file_path TEXT,
	expires_at TIMESTAMPTZ NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	verified_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS verification_attempts_lookup
	ON verification_attempts (user_id, meter_number, type, created_at DESC);

CREATE TABLE IF NOT EXISTS verification_audit (
	id BIGSERIAL PRIMARY KEY,
	ts TIMESTAMPTZ NOT NULL,
	user_id UUID NOT NULL,
	meter_number TEXT NOT NULL,
	action TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	request_id TEXT NOT NULL DEFAULT '',
	client_ip TEXT NOT NULL DEFAULT '',
	device TEXT NOT NULL DEFAULT '',
	actor_id TEXT NOT NULL DEFAULT ''
);
`

// PostgresContainer wraps a testcontainers PostgreSQL instance with the
// verification schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DB        *sql.DB
	URL       string
}

// NewPostgresContainer starts a PostgreSQL container and bootstraps the
// schema. The container is terminated via t.Cleanup.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("selfcare_test"),
		tcpostgres.WithUsername("selfcare"),
		tcpostgres.WithPassword("selfcare"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	if _, err := db.ExecContext(ctx, schema); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}

	return &PostgresContainer{Container: container, DB: db, URL: url}
}

// TruncateTables empties the given tables between tests.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	for _, table := range tables {
		if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+table+" CASCADE"); err != nil {
			return err
		}
	}
	return nil
}

// Exec runs a statement against the test database.
func (p *PostgresContainer) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return p.DB.ExecContext(ctx, query, args...)
}
