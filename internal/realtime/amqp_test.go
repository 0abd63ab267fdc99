package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	queues []string
	msgs   []amqp.Publishing
	err    error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.queues = append(f.queues, key)
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestAMQPForwarder_PublishesEnvelope(t *testing.T) {
	pub := &fakePublisher{}
	f := newAMQPForwarder(pub, "gateway_inbound_events", nil)

	f.Handler("inbound_sms")(Event{Table: "sms_messages", Record: json.RawMessage(`{"id":"m1","body":"hi"}`)})

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "gateway_inbound_events", pub.queues[0])
	assert.Equal(t, "m1", pub.msgs[0].MessageId)
	assert.Equal(t, amqp.Persistent, pub.msgs[0].DeliveryMode)

	var body forwardedEvent
	require.NoError(t, json.Unmarshal(pub.msgs[0].Body, &body))
	assert.Equal(t, "inbound_sms", body.Kind)
	assert.JSONEq(t, `{"id":"m1","body":"hi"}`, string(body.Record))
	assert.NoError(t, f.Close())
}

func TestAMQPForwarder_PublishErrorIsSwallowed(t *testing.T) {
	f := newAMQPForwarder(&fakePublisher{err: errors.New("channel closed")}, "q", nil)
	assert.NotPanics(t, func() {
		f.Handler("inbound_call")(Event{Table: "call_logs", Record: json.RawMessage(`{"id":"c1"}`)})
	})
}

// fakeBroker hands out a fresh fakePublisher per dial.
type fakeBroker struct {
	dials   int
	dialErr error
	pubs    []*fakePublisher
	closes  int
}

func (b *fakeBroker) dial() (publisher, func() error, error) {
	b.dials++
	if b.dialErr != nil {
		return nil, nil, b.dialErr
	}
	p := &fakePublisher{}
	b.pubs = append(b.pubs, p)
	return p, func() error { b.closes++; return nil }, nil
}

func newRedialingForwarder(t *testing.T, b *fakeBroker) *AMQPForwarder {
	t.Helper()
	f := newAMQPForwarder(nil, "q", nil)
	f.dial = b.dial
	f.redialInterval = 0
	return f
}

func TestAMQPForwarder_RedialsAfterConnectionLoss(t *testing.T) {
	b := &fakeBroker{}
	f := newRedialingForwarder(t, b)
	forward := f.Handler("inbound_call")

	forward(Event{Table: "call_logs", Record: json.RawMessage(`{"id":"c1"}`)})
	require.Equal(t, 1, b.dials)
	require.Len(t, b.pubs[0].msgs, 1)

	f.lost(b.pubs[0], errors.New("connection reset"))
	forward(Event{Table: "call_logs", Record: json.RawMessage(`{"id":"c2"}`)})

	require.Equal(t, 2, b.dials)
	require.Len(t, b.pubs[1].msgs, 1)
	assert.Equal(t, "c2", b.pubs[1].msgs[0].MessageId)
}

func TestAMQPForwarder_RetriesOnceOnClosedChannel(t *testing.T) {
	b := &fakeBroker{}
	f := newRedialingForwarder(t, b)
	forward := f.Handler("inbound_sms")

	forward(Event{Table: "sms_messages", Record: json.RawMessage(`{"id":"m1"}`)})
	b.pubs[0].err = amqp.ErrClosed

	forward(Event{Table: "sms_messages", Record: json.RawMessage(`{"id":"m2"}`)})
	require.Equal(t, 2, b.dials)
	assert.Equal(t, 1, b.closes)
	require.Len(t, b.pubs[1].msgs, 1)
	assert.Equal(t, "m2", b.pubs[1].msgs[0].MessageId)
}

func TestAMQPForwarder_RedialIsRateLimited(t *testing.T) {
	b := &fakeBroker{dialErr: errors.New("connection refused")}
	f := newRedialingForwarder(t, b)
	f.redialInterval = time.Hour
	forward := f.Handler("inbound_call")

	forward(Event{Table: "call_logs", Record: json.RawMessage(`{"id":"c1"}`)})
	forward(Event{Table: "call_logs", Record: json.RawMessage(`{"id":"c2"}`)})
	assert.Equal(t, 1, b.dials, "second publish must wait for the redial interval")
}

func TestAMQPForwarder_CloseStopsPublishing(t *testing.T) {
	b := &fakeBroker{}
	f := newRedialingForwarder(t, b)
	f.Handler("inbound_call")(Event{Table: "call_logs", Record: json.RawMessage(`{"id":"c1"}`)})

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.Equal(t, 1, b.closes)

	f.Handler("inbound_call")(Event{Table: "call_logs", Record: json.RawMessage(`{"id":"c2"}`)})
	assert.Equal(t, 1, b.dials)
}
