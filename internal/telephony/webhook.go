package telephony

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// Provider webhooks arrive as application/x-www-form-urlencoded.
// Parsing stays adapter-only; persisting the event is the caller's job.

const SignatureHeader = "X-Webhook-Signature"

var ErrInvalidSignature = errors.New("telephony: invalid webhook signature")

// InboundCallEvent is the provider's notification that a call reached an owned number.
type InboundCallEvent struct {
	CallSID   string
	From      string
	To        string
	Status    string
	Direction string

	// DurationSeconds is nil until the provider reports the call as completed.
	DurationSeconds *int
	RecordingURL    string
}

// InboundSMSEvent is a message received on an owned number.
type InboundSMSEvent struct {
	MessageSID string
	From       string
	To         string
	Body       string
	Status     string
}

func ParseInboundCall(r *http.Request) (InboundCallEvent, error) {
	if err := r.ParseForm(); err != nil {
		return InboundCallEvent{}, err
	}
	ev := InboundCallEvent{
		CallSID:      r.PostFormValue("CallSid"),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		Status:       strings.ToLower(r.PostFormValue("CallStatus")),
		Direction:    "inbound",
		RecordingURL: r.PostFormValue("RecordingUrl"),
	}
	if d := strings.TrimSpace(r.PostFormValue("CallDuration")); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			return InboundCallEvent{}, errors.New("telephony: CallDuration must be a non-negative integer")
		}
		ev.DurationSeconds = &n
	}
	if ev.CallSID == "" || ev.To == "" {
		return InboundCallEvent{}, errors.New("telephony: CallSid and To are required")
	}
	if ev.Status == "" {
		ev.Status = "ringing"
	}
	return ev, nil
}

func ParseInboundSMS(r *http.Request) (InboundSMSEvent, error) {
	if err := r.ParseForm(); err != nil {
		return InboundSMSEvent{}, err
	}
	ev := InboundSMSEvent{
		MessageSID: r.PostFormValue("MessageSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Body:       r.PostFormValue("Body"),
		Status:     strings.ToLower(r.PostFormValue("SmsStatus")),
	}
	if ev.MessageSID == "" || ev.To == "" || ev.From == "" {
		return InboundSMSEvent{}, errors.New("telephony: MessageSid, From and To are required")
	}
	if ev.Status == "" {
		ev.Status = "received"
	}
	return ev, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the webhook signature header against body.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return nil
	}
	want := Sign(secret, body)
	if !hmac.Equal([]byte(want), []byte(strings.TrimSpace(signature))) {
		return ErrInvalidSignature
	}
	return nil
}

func normalizePhone(s string) string {
	// "anonymous" and empty caller ids are kept as-is.
	return strings.TrimSpace(s)
}
