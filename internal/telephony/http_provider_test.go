package telephony

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *HTTPProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	p, err := NewHTTPProvider(config.ProviderConfig{BaseURL: srv.URL, APIKey: "key-1", Timeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return p
}

func TestNewHTTPProvider_RequiresConfig(t *testing.T) {
	_, err := NewHTTPProvider(config.ProviderConfig{APIKey: "k"}, nil)
	assert.Error(t, err)
	_, err = NewHTTPProvider(config.ProviderConfig{BaseURL: "http://x"}, nil)
	assert.Error(t, err)
}

func TestProvisionNumber_SendsBearerAndFullCapabilities(t *testing.T) {
	var got ProvisionRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/phone-numbers/provision", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"phone_number":"+15550001111","sid":"PN1","provider":"acme"}`))
	})

	out, err := p.ProvisionNumber(context.Background(), ProvisionRequest{
		ClientID:     "user-1",
		PhoneNumber:  "+15550001111",
		Capabilities: FullCapabilities(),
	})
	require.NoError(t, err)
	assert.Equal(t, "PN1", out.ProviderNumberID)
	assert.Equal(t, "user-1", got.ClientID)
	assert.Equal(t, FullCapabilities(), got.Capabilities)
}

func TestSearchNumbers_EmptyResult(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	out, err := p.SearchNumbers(context.Background(), SearchQuery{AreaCode: "415"})
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestRejectionCarriesUpstreamStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"number already taken"}`))
	})

	_, err := p.ProvisionNumber(context.Background(), ProvisionRequest{PhoneNumber: "+15550001111"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeProviderError))
	assert.Equal(t, http.StatusConflict, apperr.StatusOf(err))
	assert.Contains(t, err.Error(), "number already taken")
}

func TestUnreachableProviderHasZeroStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, err := NewHTTPProvider(config.ProviderConfig{BaseURL: url, APIKey: "k", Timeout: time.Second}, nil)
	require.NoError(t, err)

	_, err = p.SendSMS(context.Background(), SMSRequest{From: "+1", To: "+2", Body: "hi"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeProviderError))
	assert.Equal(t, 0, apperr.StatusOf(err))
}

func TestNoRetryOnServerError(t *testing.T) {
	hits := 0
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := p.OriginateCall(context.Background(), OriginateRequest{From: "+1", To: "+2", RecordCall: true})
	require.Error(t, err)
	assert.Equal(t, 1, hits)
	assert.Equal(t, http.StatusServiceUnavailable, apperr.StatusOf(err))
}

func TestFetchRecording_PathParam(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calls/call-7/recording", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recording_url":"https://rec.test/7.mp3","duration":42}`))
	})
	rec, err := p.FetchRecording(context.Background(), "call-7")
	require.NoError(t, err)
	assert.Equal(t, "call-7", rec.CallID)
	assert.Equal(t, "https://rec.test/7.mp3", rec.RecordingURL)
}

func TestSendSMS_DefaultsQueuedStatus(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_sid":"SM1"}`))
	})
	out, err := p.SendSMS(context.Background(), SMSRequest{From: "+1", To: "+2", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "queued", out.Status)
}

func TestUsageSummary_DateQuery(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-03-01", r.URL.Query().Get("startDate"))
		assert.Equal(t, "2024-03-31", r.URL.Query().Get("endDate"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totals":{"sms":{"quantity":7,"cost":0.35}}}`))
	})
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
	out, err := p.UsageSummary(context.Background(), start, end)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.Totals["sms"].Quantity)
}
