package calls

import (
	"time"

	"phone-gateway/internal/telephony"
)

// CallLog is one voice interaction as persisted in call_logs.
// JSON tags follow the column names so change-stream rows decode directly.
//
// Rows are append-only. Only RecordingURL, Transcription and Summary are
// filled in later by out-of-band processing.
type CallLog struct {
	ID            string    `json:"id"`
	CallSID       string    `json:"call_sid,omitempty"`
	PhoneNumberID string    `json:"phone_number_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	From          string    `json:"from_number"`
	To            string    `json:"to_number"`
	Direction     Direction `json:"direction"`
	Status        string    `json:"status"`

	// Duration is nil while the call is live and set (>= 0 seconds) once it ends.
	Duration *int `json:"duration"`

	RecordingURL  string    `json:"recording_url,omitempty"`
	Transcription string    `json:"transcription,omitempty"`
	Summary       string    `json:"summary,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Call status strings as reported by the provider.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusNoAnswer   = "no-answer"
	StatusBusy       = "busy"
)

// SessionID identifies a direct media session. It is never a provider call sid.
type SessionID string

func (id SessionID) String() string { return string(id) }

// Transport selects how a call is placed.
type Transport string

const (
	// TransportDirect is a peer-to-peer media session set up over signaling.
	TransportDirect Transport = "direct"
	// TransportCarrier originates the call through the provider's network.
	TransportCarrier Transport = "carrier"
)

func (t Transport) Valid() bool {
	return t == TransportDirect || t == TransportCarrier
}

// SessionState is the lifecycle of a direct session:
// requested -> connecting -> active -> ended, or failed.
type SessionState string

const (
	SessionRequested  SessionState = "requested"
	SessionConnecting SessionState = "connecting"
	SessionActive     SessionState = "active"
	SessionEnded      SessionState = "ended"
	SessionFailed     SessionState = "failed"
)

// Session is a live direct media session tracked in the registry.
type Session struct {
	ID        SessionID    `json:"id"`
	OwnerID   string       `json:"owner_id"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	State     SessionState `json:"state"`
	Muted     bool         `json:"muted"`
	StartedAt time.Time    `json:"started_at"`
}

// InitiateRequest starts a call. An empty Transport uses the manager default.
// A nil RecordCall records the call.
type InitiateRequest struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	RecordCall *bool     `json:"record_call,omitempty"`
	Transport  Transport `json:"transport,omitempty"`
}

// Recording reports whether the call is recorded.
func (r InitiateRequest) Recording() bool {
	return r.RecordCall == nil || *r.RecordCall
}

// InitiateResult carries a SessionID for direct calls or the provider descriptor for carrier calls.
type InitiateResult struct {
	Transport Transport       `json:"transport"`
	SessionID SessionID       `json:"session_id,omitempty"`
	Call      *telephony.Call `json:"call,omitempty"`
}
