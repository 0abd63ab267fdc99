package gateway

import (
	"context"
	"sync"
	"testing"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/auth"
	"phone-gateway/internal/calls"
	"phone-gateway/internal/messaging"
	"phone-gateway/internal/numbers"
	"phone-gateway/internal/realtime"
	"phone-gateway/internal/telephony"
	"phone-gateway/internal/usage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	gw       *Gateway
	stream   *realtime.MemoryStream
	numbers  *numbers.MemoryRepo
	provider *telephony.StubProvider
}

func newHarness(t *testing.T) harness {
	t.Helper()
	h := harness{
		stream:   realtime.NewMemoryStream(nil),
		numbers:  numbers.NewMemoryRepo(),
		provider: &telephony.StubProvider{},
	}
	h.gw = New(Deps{
		Numbers:  h.numbers,
		Calls:    calls.NewMemoryRepo(),
		Sessions: calls.NewMemoryRegistry(),
		Messages: messaging.NewMemoryRepo(),
		Usage:    usage.NewMemoryRepo(),
		Provider: h.provider,
		Stream:   h.stream,
	}, Options{})
	t.Cleanup(h.gw.Close)
	return h
}

func TestSubscribeInboundSMS_OnlyInbound(t *testing.T) {
	h := newHarness(t)
	const number = "+15551234567"

	var (
		mu  sync.Mutex
		got []messaging.Message
	)
	sub, err := h.gw.SubscribeInboundSMS(context.Background(), number, func(m messaging.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	})
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, h.stream.Publish(TableSMSMessages, messaging.Message{
		ID: "m1", From: "+15557654321", To: number, Body: "hello", Direction: messaging.DirectionInbound, Status: "received",
	}))
	require.NoError(t, h.stream.Publish(TableSMSMessages, messaging.Message{
		ID: "m2", From: number, To: number, Body: "echo", Direction: messaging.DirectionOutbound,
	}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "hello", got[0].Body)
}

func TestSubscribeInboundCalls_MatchesDestination(t *testing.T) {
	h := newHarness(t)
	const number = "+15551230000"

	var got []calls.CallLog
	sub, err := h.gw.SubscribeInboundCalls(context.Background(), number, func(c calls.CallLog) { got = append(got, c) })
	require.NoError(t, err)

	require.NoError(t, h.stream.Publish(TableCallLogs, calls.CallLog{ID: "c1", From: "+1999", To: number, Direction: calls.DirectionInbound}))
	require.NoError(t, h.stream.Publish(TableCallLogs, calls.CallLog{ID: "c2", From: "+1999", To: "+1000"}))
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)

	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Close(), "second close is a no-op")
	require.NoError(t, h.stream.Publish(TableCallLogs, calls.CallLog{ID: "c3", To: number}))
	assert.Len(t, got, 1, "no delivery after close")
	assert.Zero(t, h.stream.Listeners(TableCallLogs))
}

func TestIngestInboundSMS_ResolvesOwner(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.numbers.Insert(context.Background(), numbers.PhoneNumber{
		ID: "n1", PhoneNumber: "+15551230000", AssignedTo: "u1", Status: numbers.StatusActive,
	}))

	m, err := h.gw.IngestInboundSMS(context.Background(), telephony.InboundSMSEvent{
		MessageSID: "SM1", From: "+15557654321", To: "+15551230000", Body: "hi", Status: "received",
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", m.UserID)

	ctx := auth.WithPrincipal(context.Background(), auth.Principal{UserID: "u1"})
	convs, err := h.gw.Messaging.Conversations(ctx, "")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "+15557654321", convs[0].ParticipantNumber)

	_, err = h.gw.IngestInboundSMS(context.Background(), telephony.InboundSMSEvent{From: "+1", To: "+19999999999"})
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestIngestInboundCall_ResolvesOwner(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.numbers.Insert(context.Background(), numbers.PhoneNumber{
		ID: "n1", PhoneNumber: "+15551230000", AssignedTo: "u1", Status: numbers.StatusActive,
	}))

	c, err := h.gw.IngestInboundCall(context.Background(), telephony.InboundCallEvent{
		CallSID: "CA1", From: "+15557654321", To: "+15551230000", Status: "ringing",
	})
	require.NoError(t, err)

	ctx := auth.WithPrincipal(context.Background(), auth.Principal{UserID: "u1"})
	logs, err := h.gw.Calls.History(ctx, "+15551230000")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, c.ID, logs[0].ID)
}

func TestNew_DefaultTransportIsDirect(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, calls.TransportDirect, h.gw.Calls.DefaultTransport())
}
