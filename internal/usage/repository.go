package usage

import (
	"context"
	"database/sql"

	"phone-gateway/pkg/utils"
)

// Repository reads usage records. Reads are scoped to ownerID.
type Repository interface {
	ListRecords(ctx context.Context, ownerID, phoneNumberID string, period BillingPeriod) ([]Record, error)
}

// PostgresRepo reads phone_usage_records, written by out-of-band billing.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListRecords(ctx context.Context, ownerID, phoneNumberID string, period BillingPeriod) ([]Record, error) {
	const q = `
SELECT id, phone_number_id, user_id, usage_type, quantity, cost_micros, billing_period, created_at
FROM phone_usage_records
WHERE user_id = $1 AND phone_number_id = $2 AND billing_period = $3
`
	out := make([]Record, 0)
	err := utils.WithScope(ctx, r.db, ownerID, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, ownerID, phoneNumberID, string(period))
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec Record
			if err := rows.Scan(&rec.ID, &rec.PhoneNumberID, &rec.UserID, &rec.Type, &rec.Quantity,
				&rec.CostMicros, &rec.Period, &rec.CreatedAt); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
