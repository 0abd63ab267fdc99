// Package pgtest opens the integration database named by POSTGRES_TEST_DSN.
// Tests that use it are skipped when the variable is unset.
package pgtest

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"phone-gateway/migrations"
	"phone-gateway/pkg/utils"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
)

const EnvDSN = "POSTGRES_TEST_DSN"

// Serializes schema setup across test binaries running in parallel.
const schemaLockKey = 0x70686f6e65

// Open applies the schema and returns a pool plus its DSN. Tests share one
// database, so each test owns its rows through fresh principal ids.
func Open(t testing.TB) (*sql.DB, string) {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skip(EnvDSN + " not set")
	}
	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, "pgx", dsn, utils.PostgresPoolConfig{MaxOpenConns: 4, MaxIdleConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := migrations.Files.ReadFile(migrations.Init)
	require.NoError(t, err)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, schemaLockKey)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, string(schema))
	_, _ = conn.ExecContext(ctx, `SELECT pg_advisory_unlock($1)`, schemaLockKey)
	require.NoError(t, err, "apply schema")
	return db, dsn
}

// SeedNumber inserts an active number assigned to owner and returns its id and E.164 form.
func SeedNumber(t testing.TB, db *sql.DB, owner string) (string, string) {
	t.Helper()
	id := uuid.NewString()
	e164 := fmt.Sprintf("+1555%07d", rand.Intn(10_000_000))
	err := utils.WithScope(context.Background(), db, owner, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO phone_numbers (id, phone_number, friendly_name, assigned_to) VALUES ($1, $2, 'test line', $3)`,
			id, e164, owner)
		return err
	})
	require.NoError(t, err)
	return id, e164
}
