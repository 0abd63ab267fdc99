package calls

import (
	"encoding/json"
	"testing"
)

func TestTransportValid(t *testing.T) {
	for _, tr := range []Transport{TransportDirect, TransportCarrier} {
		if !tr.Valid() {
			t.Fatalf("expected %q to be valid", tr)
		}
	}
	if Transport("").Valid() || Transport("sip").Valid() {
		t.Fatalf("expected empty and unknown transports to be invalid")
	}
}

func TestCallLog_DecodesStoreRow(t *testing.T) {
	row := []byte(`{"id":"c1","from_number":"+1444","to_number":"+1555","direction":"inbound","status":"ringing","duration":null,"created_at":"2024-03-01T10:00:00Z"}`)
	var c CallLog
	if err := json.Unmarshal(row, &c); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if c.To != "+1555" || c.Direction != DirectionInbound {
		t.Fatalf("unexpected log %+v", c)
	}
	if c.Duration != nil {
		t.Fatalf("expected nil duration for a live call")
	}
}
