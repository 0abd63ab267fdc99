package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func formRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/provider/voice", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseInboundCall(t *testing.T) {
	ev, err := ParseInboundCall(formRequest("CallSid=CA123&From=%2B15551234567&To=%2B15557654321&CallStatus=Ringing"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ev.CallSID != "CA123" || ev.Direction != "inbound" || ev.Status != "ringing" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.From != "+15551234567" || ev.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", ev.From, ev.To)
	}
	if ev.DurationSeconds != nil {
		t.Fatalf("expected no duration while ringing")
	}
}

func TestParseInboundCall_CompletedCarriesDuration(t *testing.T) {
	ev, err := ParseInboundCall(formRequest("CallSid=CA1&To=%2B1555&CallStatus=completed&CallDuration=61"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.DurationSeconds == nil || *ev.DurationSeconds != 61 {
		t.Fatalf("expected duration 61, got %v", ev.DurationSeconds)
	}
}

func TestParseInboundCall_RejectsNegativeDuration(t *testing.T) {
	if _, err := ParseInboundCall(formRequest("CallSid=CA1&To=%2B1555&CallDuration=-3")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseInboundSMS(t *testing.T) {
	ev, err := ParseInboundSMS(formRequest("MessageSid=SM1&From=%2B1444&To=%2B1555&Body=hello+there"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ev.Body != "hello there" || ev.Status != "received" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if _, err := ParseInboundSMS(formRequest("From=%2B1444")); err == nil {
		t.Fatalf("expected missing field error")
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte("MessageSid=SM1")
	sig := Sign("s3cret", body)
	if err := VerifySignature("s3cret", body, sig); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
	if err := VerifySignature("s3cret", body, "deadbeef"); err != ErrInvalidSignature {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if err := VerifySignature("", body, ""); err != nil {
		t.Fatalf("expected unsigned webhooks to pass when no secret is configured")
	}
}
