package telephony

import (
	"context"
	"time"
)

// TelephonyProvider is the remote telephony API consumed by the gateway.
//
// Rules:
// - Implementations never retry; every failure is returned to the caller.
// - Failures are *apperr.Error with CodeProviderError and the upstream HTTP status
//   (0 when the provider could not be reached).
type TelephonyProvider interface {
	SearchNumbers(ctx context.Context, q SearchQuery) ([]CandidateNumber, error)
	ProvisionNumber(ctx context.Context, req ProvisionRequest) (ProvisionedNumber, error)

	OriginateCall(ctx context.Context, req OriginateRequest) (Call, error)
	FetchRecording(ctx context.Context, callID string) (Recording, error)

	SendSMS(ctx context.Context, req SMSRequest) (SentMessage, error)

	UsageSummary(ctx context.Context, start, end time.Time) (UsageSummary, error)
}

type SearchQuery struct {
	AreaCode   string `json:"areaCode,omitempty"`
	NumberType string `json:"numberType,omitempty"`
	Pattern    string `json:"pattern,omitempty"`
}

// CandidateNumber is a number the provider offers for provisioning.
type CandidateNumber struct {
	PhoneNumber  string       `json:"phone_number"`
	FriendlyName string       `json:"friendly_name,omitempty"`
	Locality     string       `json:"locality,omitempty"`
	Region       string       `json:"region,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

type Capabilities struct {
	Voice bool `json:"voice"`
	SMS   bool `json:"SMS"`
	MMS   bool `json:"MMS"`
}

// FullCapabilities is the only capability set the gateway provisions.
func FullCapabilities() Capabilities {
	return Capabilities{Voice: true, SMS: true, MMS: true}
}

type ProvisionRequest struct {
	ClientID     string       `json:"clientId"`
	PhoneNumber  string       `json:"phoneNumber"`
	FriendlyName string       `json:"friendlyName,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

type ProvisionedNumber struct {
	PhoneNumber      string `json:"phone_number"`
	ProviderNumberID string `json:"sid,omitempty"`
	Provider         string `json:"provider,omitempty"`
}

type OriginateRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	RecordCall bool   `json:"recordCall"`
}

// Call is the provider's descriptor for a carrier-routed call.
type Call struct {
	CallSID string `json:"call_sid"`
	From    string `json:"from"`
	To      string `json:"to"`
	Status  string `json:"status"`
}

type Recording struct {
	CallID          string `json:"call_id"`
	RecordingURL    string `json:"recording_url"`
	DurationSeconds int    `json:"duration,omitempty"`
}

type SMSRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// SentMessage reflects the provider's accepted/queued state, not final delivery.
type SentMessage struct {
	MessageSID string `json:"message_sid"`
	Status     string `json:"status"`
}

type UsageSummary struct {
	StartDate string               `json:"start_date,omitempty"`
	EndDate   string               `json:"end_date,omitempty"`
	Totals    map[string]UsageLine `json:"totals"`
}

type UsageLine struct {
	Quantity int64   `json:"quantity"`
	Cost     float64 `json:"cost"`
}
