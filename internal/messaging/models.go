package messaging

import "time"

// Message is one SMS in a conversation. Rows are immutable once written.
// JSON tags follow sms_messages columns so change-stream rows decode directly.
type Message struct {
	ID             string    `json:"id"`
	MessageSID     string    `json:"message_sid,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	PhoneNumberID  string    `json:"phone_number_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	From           string    `json:"from_number"`
	To             string    `json:"to_number"`
	Body           string    `json:"body"`
	Direction      Direction `json:"direction"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Conversation is the thread between one owned number and one participant.
// PhoneNumber and FriendlyName are joined from the owning number.
type Conversation struct {
	ID                string    `json:"id"`
	PhoneNumberID     string    `json:"phone_number_id"`
	ParticipantNumber string    `json:"participant_number"`
	UserID            string    `json:"user_id,omitempty"`
	LastMessageAt     time.Time `json:"last_message_at"`
	CreatedAt         time.Time `json:"created_at"`

	PhoneNumber  string `json:"phone_number,omitempty"`
	FriendlyName string `json:"friendly_name,omitempty"`
}

// participant is the external side of m relative to the owned number.
func (m Message) participant() string {
	if m.Direction == DirectionInbound {
		return m.From
	}
	return m.To
}
