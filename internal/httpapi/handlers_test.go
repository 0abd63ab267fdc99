package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/auth"
	"phone-gateway/internal/calls"
	"phone-gateway/internal/config"
	"phone-gateway/internal/gateway"
	"phone-gateway/internal/messaging"
	"phone-gateway/internal/numbers"
	"phone-gateway/internal/realtime"
	"phone-gateway/internal/telephony"
	"phone-gateway/internal/usage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "webhook-secret"

type testEnv struct {
	router   *gin.Engine
	gw       *gateway.Gateway
	stream   *realtime.MemoryStream
	numbers  *numbers.MemoryRepo
	usage    *usage.MemoryRepo
	provider *telephony.StubProvider
	tokens   *auth.Manager
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := auth.NewManager(config.AuthConfig{JWTSecret: "test-secret"})
	require.NoError(t, err)

	env := testEnv{
		stream:   realtime.NewMemoryStream(nil),
		numbers:  numbers.NewMemoryRepo(),
		usage:    usage.NewMemoryRepo(),
		provider: &telephony.StubProvider{},
		tokens:   tokens,
	}
	env.gw = gateway.New(gateway.Deps{
		Numbers:  env.numbers,
		Calls:    calls.NewMemoryRepo(),
		Sessions: calls.NewMemoryRegistry(),
		Messages: messaging.NewMemoryRepo(),
		Usage:    env.usage,
		Provider: env.provider,
		Stream:   env.stream,
	}, gateway.Options{})
	t.Cleanup(env.gw.Close)

	env.router = gin.New()
	Handlers{GW: env.gw, WebhookSecret: testSecret, Heartbeat: time.Hour}.Register(env.router, auth.IdentifyOptional(tokens))
	return env
}

func (e testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.tokens.IssueAccess(time.Now(), userID)
	require.NoError(t, err)
	return tok
}

func (e testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e testEnv) seedNumber(t *testing.T, id, number, owner string) {
	t.Helper()
	require.NoError(t, e.numbers.Insert(context.Background(), numbers.PhoneNumber{
		ID: id, PhoneNumber: number, AssignedTo: owner, Status: numbers.StatusActive, CreatedAt: time.Now(),
	}))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestListNumbers_AnonymousIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.seedNumber(t, "n1", "+15551230000", "u1")

	w := env.do(t, http.MethodGet, "/v1/numbers", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["numbers"])

	w = env.do(t, http.MethodGet, "/v1/numbers", env.token(t, "u1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["numbers"], 1)
}

func TestInvalidTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/v1/numbers", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProvisionNumber(t *testing.T) {
	env := newTestEnv(t)
	body := provisionRequest{PhoneNumber: "+15550001111", FriendlyName: "Main"}

	w := env.do(t, http.MethodPost, "/v1/numbers", "", body)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(apperr.CodeAuthRequired), decode(t, w)["code"])

	w = env.do(t, http.MethodPost, "/v1/numbers", env.token(t, "u1"), body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "+15550001111", out["phone_number"])
	assert.Equal(t, map[string]any{"voice": true, "SMS": true, "MMS": true}, out["capabilities"])
}

func TestSearchNumbers_ProviderFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.provider.SearchFn = func(telephony.SearchQuery) ([]telephony.CandidateNumber, error) {
		return nil, apperr.Provider("telephony.search_numbers", http.StatusServiceUnavailable, errors.New("maintenance"))
	}
	w := env.do(t, http.MethodPost, "/v1/numbers/search", "", telephony.SearchQuery{AreaCode: "415"})
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(apperr.CodeProviderError), decode(t, w)["code"])
}

func TestCalls(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "u1")
	env.seedNumber(t, "n1", "+15551230000", "u1")

	w := env.do(t, http.MethodPost, "/v1/calls", tok, calls.InitiateRequest{From: "+15551230000", To: "+15557654321", Transport: calls.TransportCarrier})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "carrier", decode(t, w)["transport"])
	require.Len(t, env.provider.Originated, 1)
	assert.True(t, env.provider.Originated[0].RecordCall, "recording defaults on")

	w = env.do(t, http.MethodPost, "/v1/calls", tok, gin.H{"from": "+15551230000", "to": "+15557654321", "transport": "carrier", "record_call": false})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, env.provider.Originated, 2)
	assert.False(t, env.provider.Originated[1].RecordCall)

	w = env.do(t, http.MethodGet, "/v1/calls/missing", tok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/v1/calls?number=%2B15551230000", tok, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["calls"])

	// no media transport is configured in this environment
	w = env.do(t, http.MethodPost, "/v1/calls", tok, calls.InitiateRequest{From: "+15551230000", To: "+15557654321"})
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(apperr.CodeTransportError), decode(t, w)["code"])

	w = env.do(t, http.MethodDelete, "/v1/sessions/unknown", tok, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNumberUsage(t *testing.T) {
	env := newTestEnv(t)
	env.seedNumber(t, "n1", "+15551230000", "u1")
	env.usage.Add(
		usage.Record{UserID: "u1", PhoneNumberID: "n1", Period: "2024-03", Type: "sms", Quantity: 5, CostMicros: 250_000},
		usage.Record{UserID: "u1", PhoneNumberID: "n1", Period: "2024-03", Type: "sms", Quantity: 2, CostMicros: 100_000},
	)

	w := env.do(t, http.MethodGet, "/v1/usage/numbers/n1?period=2024-03", env.token(t, "u1"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	totals := decode(t, w)["totals"].(map[string]any)
	assert.Equal(t, map[string]any{"quantity": float64(7), "cost": 0.35, "cost_micros": float64(350_000)}, totals["sms"])

	w = env.do(t, http.MethodGet, "/v1/usage/numbers/n1?period=2024-03", env.token(t, "u2"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/v1/usage/numbers/n1?period=03-2024", env.token(t, "u1"), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func signedForm(t *testing.T, path string, form url.Values, secret string) *http.Request {
	t.Helper()
	body := form.Encode()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(telephony.SignatureHeader, telephony.Sign(secret, []byte(body)))
	return req
}

func TestProviderSMSWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.seedNumber(t, "n1", "+15551230000", "u1")
	form := url.Values{"MessageSid": {"SM1"}, "From": {"+15557654321"}, "To": {"+15551230000"}, "Body": {"hello"}}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, signedForm(t, "/webhooks/provider/sms", form, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, signedForm(t, "/webhooks/provider/sms", form, testSecret))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	convID := decode(t, w)["conversation_id"].(string)

	w = env.do(t, http.MethodGet, "/v1/sms/conversations/"+convID+"/messages", env.token(t, "u1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode(t, w)["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].(map[string]any)["body"])

	unknown := url.Values{"MessageSid": {"SM2"}, "From": {"+1"}, "To": {"+19999999999"}}
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, signedForm(t, "/webhooks/provider/sms", unknown, testSecret))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProviderVoiceWebhook(t *testing.T) {
	env := newTestEnv(t)
	env.seedNumber(t, "n1", "+15551230000", "u1")
	form := url.Values{"CallSid": {"CA1"}, "From": {"+15557654321"}, "To": {"+15551230000"}, "CallStatus": {"ringing"}}

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, signedForm(t, "/webhooks/provider/voice", form, testSecret))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, http.MethodGet, "/v1/calls", env.token(t, "u1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["calls"], 1)
}

func TestStreamInboundSMS(t *testing.T) {
	env := newTestEnv(t)
	env.seedNumber(t, "n1", "+15551230000", "u1")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	w := env.do(t, http.MethodGet, "/v1/events/sms/+15551230000", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = env.do(t, http.MethodGet, "/v1/events/sms/+15551230000", env.token(t, "u2"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/events/sms/"+url.PathEscape("+15551230000"), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "u1"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.stream.Listeners(gateway.TableSMSMessages) == 1 }, 2*time.Second, 10*time.Millisecond)

	go func() {
		_ = env.stream.Publish(gateway.TableSMSMessages, messaging.Message{ID: "out", To: "+15551230000", Direction: messaging.DirectionOutbound})
		_ = env.stream.Publish(gateway.TableSMSMessages, messaging.Message{ID: "in", To: "+15551230000", Direction: messaging.DirectionInbound, Body: "hey"})
	}()

	sc := bufio.NewScanner(resp.Body)
	var event, data string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimPrefix(line, "event:")
		}
		if strings.HasPrefix(line, "data:") && event == "sms" {
			data = strings.TrimPrefix(line, "data:")
			break
		}
	}
	require.NotEmpty(t, data)
	var m messaging.Message
	require.NoError(t, json.Unmarshal([]byte(data), &m))
	assert.Equal(t, "in", m.ID)

	cancel()
	assert.Eventually(t, func() bool { return env.stream.Listeners(gateway.TableSMSMessages) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventStreamEndsWhenGatewayCloses(t *testing.T) {
	env := newTestEnv(t)
	env.seedNumber(t, "n1", "+15551230000", "u1")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/events/calls/"+url.PathEscape("+15551230000"), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "u1"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Eventually(t, func() bool { return env.stream.Listeners(gateway.TableCallLogs) == 1 }, 2*time.Second, 10*time.Millisecond)

	drained := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(resp.Body)
		drained <- err
	}()

	env.gw.Close()

	select {
	case err := <-drained:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("event stream still open after gateway close")
	}
}
