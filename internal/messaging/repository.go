package messaging

import (
	"context"
	"database/sql"
	"errors"

	"phone-gateway/pkg/utils"

	"github.com/google/uuid"
)

// Repository reads and appends SMS threads. Reads are scoped to ownerID.
type Repository interface {
	// Conversations returns threads by last activity, newest first.
	// A non-empty participant restricts the result to that external number.
	Conversations(ctx context.Context, ownerID, participant string) ([]Conversation, error)

	// Messages returns a thread in creation order, oldest first.
	Messages(ctx context.Context, ownerID, conversationID string) ([]Message, error)

	// Append stores m and upserts its conversation keyed on (phone number, participant).
	// The returned message carries the conversation id. Appending a provider sid
	// that is already stored returns the stored message and changes nothing.
	Append(ctx context.Context, m Message) (Message, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Conversations(ctx context.Context, ownerID, participant string) ([]Conversation, error) {
	const q = `
SELECT c.id, c.phone_number_id, c.participant_number, c.user_id, c.last_message_at, c.created_at,
       p.phone_number, COALESCE(p.friendly_name, '')
FROM sms_conversations c
JOIN phone_numbers p ON p.id = c.phone_number_id
WHERE c.user_id = $1
  AND ($2::text = '' OR c.participant_number = $2)
ORDER BY c.last_message_at DESC
`
	out := make([]Conversation, 0)
	err := utils.WithScope(ctx, r.db, ownerID, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, ownerID, participant)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var c Conversation
			if err := rows.Scan(&c.ID, &c.PhoneNumberID, &c.ParticipantNumber, &c.UserID, &c.LastMessageAt,
				&c.CreatedAt, &c.PhoneNumber, &c.FriendlyName); err != nil {
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

const messageColumns = `id, COALESCE(message_sid, ''), conversation_id, phone_number_id, user_id, from_number, to_number,
       body, direction, status, created_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(&m.ID, &m.MessageSID, &m.ConversationID, &m.PhoneNumberID, &m.UserID, &m.From,
		&m.To, &m.Body, &m.Direction, &m.Status, &m.CreatedAt)
	return m, err
}

func (r *PostgresRepo) Messages(ctx context.Context, ownerID, conversationID string) ([]Message, error) {
	const q = `
SELECT ` + messageColumns + `
FROM sms_messages
WHERE user_id = $1 AND conversation_id = $2
ORDER BY created_at ASC, id ASC
`
	out := make([]Message, 0)
	err := utils.WithScope(ctx, r.db, ownerID, func(ctx context.Context, tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, ownerID, conversationID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMessage(rows)
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Append stores m in its conversation. A message whose provider sid is already
// stored is not inserted again; the stored row is returned instead.
func (r *PostgresRepo) Append(ctx context.Context, m Message) (Message, error) {
	const bySID = `SELECT ` + messageColumns + ` FROM sms_messages WHERE message_sid = $1`
	const upsertConversation = `
INSERT INTO sms_conversations (id, phone_number_id, participant_number, user_id, last_message_at, created_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (phone_number_id, participant_number)
DO UPDATE SET last_message_at = GREATEST(sms_conversations.last_message_at, EXCLUDED.last_message_at)
RETURNING id
`
	const insertMessage = `
INSERT INTO sms_messages (
  id, message_sid, conversation_id, phone_number_id, user_id, from_number, to_number,
  body, direction, status, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (message_sid) DO NOTHING
`
	out := m
	err := utils.WithScope(ctx, r.db, m.UserID, func(ctx context.Context, tx *sql.Tx) error {
		if m.MessageSID != "" {
			existing, err := scanMessage(tx.QueryRowContext(ctx, bySID, m.MessageSID))
			if err == nil {
				out = existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
		if err := tx.QueryRowContext(ctx, upsertConversation,
			uuid.NewString(), m.PhoneNumberID, m.participant(), m.UserID, m.CreatedAt,
		).Scan(&out.ConversationID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, insertMessage,
			m.ID,
			sql.NullString{String: m.MessageSID, Valid: m.MessageSID != ""},
			out.ConversationID,
			m.PhoneNumberID,
			m.UserID,
			m.From,
			m.To,
			m.Body,
			m.Direction,
			m.Status,
			m.CreatedAt,
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			// A concurrent delivery of the same sid won the insert.
			existing, err := scanMessage(tx.QueryRowContext(ctx, bySID, m.MessageSID))
			if err != nil {
				return err
			}
			out = existing
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return out, nil
}
