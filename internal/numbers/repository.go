package numbers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"phone-gateway/pkg/utils"
)

var ErrNotFound = errors.New("numbers: not found")

// Repository stores the number inventory. Reads are scoped to ownerID.
type Repository interface {
	ListByOwner(ctx context.Context, ownerID string) ([]PhoneNumber, error)
	Get(ctx context.Context, ownerID, id string) (PhoneNumber, error)
	Insert(ctx context.Context, n PhoneNumber) error

	// OwnerOf resolves which principal owns an E.164 number. Used by webhook ingest,
	// which runs without a principal.
	OwnerOf(ctx context.Context, phoneNumber string) (PhoneNumber, error)
}

// PostgresRepo assumes the phone_numbers table with a row-level security policy
// on assigned_to = current_setting('app.principal_id', true).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const numberColumns = `id, phone_number, friendly_name, capabilities, provider, status, assigned_to, created_at`

func scanNumber(row interface{ Scan(...any) error }) (PhoneNumber, error) {
	var (
		n        PhoneNumber
		friendly sql.NullString
		caps     []byte
	)
	if err := row.Scan(&n.ID, &n.PhoneNumber, &friendly, &caps, &n.Provider, &n.Status, &n.AssignedTo, &n.CreatedAt); err != nil {
		return PhoneNumber{}, err
	}
	n.FriendlyName = friendly.String
	if len(caps) > 0 {
		if err := json.Unmarshal(caps, &n.Capabilities); err != nil {
			return PhoneNumber{}, err
		}
	}
	return n, nil
}

func (r *PostgresRepo) ListByOwner(ctx context.Context, ownerID string) ([]PhoneNumber, error) {
	const q = `
SELECT ` + numberColumns + `
FROM phone_numbers
WHERE assigned_to = $1
ORDER BY created_at DESC
`
	out := make([]PhoneNumber, 0)
	err := utils.WithScope(ctx, r.db, ownerID, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, ownerID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			n, err := scanNumber(rows)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) Get(ctx context.Context, ownerID, id string) (PhoneNumber, error) {
	const q = `
SELECT ` + numberColumns + `
FROM phone_numbers
WHERE assigned_to = $1 AND id = $2
`
	var n PhoneNumber
	err := utils.WithScope(ctx, r.db, ownerID, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		n, err = scanNumber(tx.QueryRowContext(ctx, q, ownerID, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return PhoneNumber{}, ErrNotFound
	}
	return n, err
}

func (r *PostgresRepo) Insert(ctx context.Context, n PhoneNumber) error {
	const q = `
INSERT INTO phone_numbers (
  id, phone_number, friendly_name, capabilities, provider, status, assigned_to, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	caps, err := json.Marshal(n.Capabilities)
	if err != nil {
		return err
	}
	return utils.WithScope(ctx, r.db, n.AssignedTo, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			n.ID,
			n.PhoneNumber,
			nullString(n.FriendlyName),
			caps,
			n.Provider,
			n.Status,
			n.AssignedTo,
			n.CreatedAt,
		)
		return err
	})
}

// OwnerOf bypasses row-level scope through the security-definer function
// owner_of_number, which only exposes active rows.
func (r *PostgresRepo) OwnerOf(ctx context.Context, phoneNumber string) (PhoneNumber, error) {
	const q = `SELECT ` + numberColumns + ` FROM owner_of_number($1)`
	n, err := scanNumber(r.db.QueryRowContext(ctx, q, phoneNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return PhoneNumber{}, ErrNotFound
	}
	return n, err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
