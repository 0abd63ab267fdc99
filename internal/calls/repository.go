package calls

import (
	"context"
	"database/sql"
	"errors"

	"phone-gateway/pkg/utils"
)

var ErrNotFound = errors.New("calls: not found")

// HistoryLimit bounds History to the most recent rows.
const HistoryLimit = 100

// Repository reads and appends call logs. Reads are scoped to ownerID.
type Repository interface {
	// History returns logs newest first. A non-empty number matches either endpoint.
	History(ctx context.Context, ownerID, number string, limit int) ([]CallLog, error)
	Get(ctx context.Context, ownerID, id string) (CallLog, error)

	// Record inserts c. When c.CallSID is already stored, the existing log takes
	// c's status and any reported duration or recording, and is returned.
	Record(ctx context.Context, c CallLog) (CallLog, error)
}

// PostgresRepo reads call_logs under the row-level security scope of the owner.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `id, call_sid, phone_number_id, user_id, from_number, to_number, direction, status,
  duration, recording_url, transcription, summary, created_at`

func scanCall(row interface{ Scan(...any) error }) (CallLog, error) {
	var (
		c                                    CallLog
		sid, numberID, rec, transcript, summ sql.NullString
		duration                             sql.NullInt64
	)
	if err := row.Scan(&c.ID, &sid, &numberID, &c.UserID, &c.From, &c.To, &c.Direction, &c.Status,
		&duration, &rec, &transcript, &summ, &c.CreatedAt); err != nil {
		return CallLog{}, err
	}
	c.CallSID = sid.String
	c.PhoneNumberID = numberID.String
	c.RecordingURL = rec.String
	c.Transcription = transcript.String
	c.Summary = summ.String
	if duration.Valid {
		d := int(duration.Int64)
		c.Duration = &d
	}
	return c, nil
}

func (r *PostgresRepo) History(ctx context.Context, ownerID, number string, limit int) ([]CallLog, error) {
	const q = `
SELECT ` + callColumns + `
FROM call_logs
WHERE user_id = $1
  AND ($2::text = '' OR from_number = $2 OR to_number = $2)
ORDER BY created_at DESC
LIMIT $3
`
	if limit <= 0 || limit > HistoryLimit {
		limit = HistoryLimit
	}
	out := make([]CallLog, 0)
	err := utils.WithScope(ctx, r.db, ownerID, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, ownerID, number, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanCall(rows)
			if err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepo) Get(ctx context.Context, ownerID, id string) (CallLog, error) {
	const q = `SELECT ` + callColumns + ` FROM call_logs WHERE user_id = $1 AND id = $2`
	var c CallLog
	err := utils.WithScope(ctx, r.db, ownerID, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		c, err = scanCall(tx.QueryRowContext(ctx, q, ownerID, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return CallLog{}, ErrNotFound
	}
	return c, err
}

// Record relies on the unique index on call_sid. Updates do not fire the insert
// trigger, so subscribers see each call once.
func (r *PostgresRepo) Record(ctx context.Context, c CallLog) (CallLog, error) {
	const q = `
INSERT INTO call_logs (
  id, call_sid, phone_number_id, user_id, from_number, to_number, direction, status,
  duration, recording_url, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (call_sid) DO UPDATE SET
  status        = EXCLUDED.status,
  duration      = COALESCE(EXCLUDED.duration, call_logs.duration),
  recording_url = COALESCE(EXCLUDED.recording_url, call_logs.recording_url)
RETURNING ` + callColumns

	var duration sql.NullInt64
	if c.Duration != nil {
		duration = sql.NullInt64{Int64: int64(*c.Duration), Valid: true}
	}
	var out CallLog
	err := utils.WithScope(ctx, r.db, c.UserID, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, err = scanCall(tx.QueryRowContext(ctx, q,
			c.ID,
			nullString(c.CallSID),
			nullString(c.PhoneNumberID),
			c.UserID,
			c.From,
			c.To,
			c.Direction,
			c.Status,
			duration,
			nullString(c.RecordingURL),
			c.CreatedAt,
		))
		return err
	})
	if err != nil {
		return CallLog{}, err
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
