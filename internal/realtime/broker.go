package realtime

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"phone-gateway/internal/tracing"
	"phone-gateway/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Handler receives matching insert events. It runs on the stream's goroutine,
// one event at a time, in the stream's emission order.
type Handler func(Event)

// Stream is one open registration against a ChangeStream.
type Stream interface {
	Close() error
}

// ChangeStream streams row inserts. Open returns only after the stream is
// listening; inserts committed earlier are not replayed. Delivery is
// at-least-once: a reconnect may repeat rows.
type ChangeStream interface {
	Open(ctx context.Context, table string, deliver func(Event)) (Stream, error)
}

// Broker opens one stream per subscription and routes matching rows to its handler.
type Broker struct {
	stream ChangeStream
	log    *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewBroker(stream ChangeStream, log *slog.Logger) *Broker {
	return &Broker{
		stream: stream,
		log:    logger.Component(log, "realtime"),
		subs:   map[string]*Subscription{},
	}
}

// Subscription is a live registration. Close releases the underlying stream
// and is safe to call more than once.
type Subscription struct {
	ID     string
	Filter Filter

	broker *Broker
	stream Stream
	closed atomic.Bool
	once   sync.Once
	done   chan struct{}
}

// Done is closed once the subscription is closed, by its owner or by Broker.Close.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (b *Broker) Subscribe(ctx context.Context, filter Filter, handler Handler) (*Subscription, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartSpan(ctx, "realtime.subscribe", attribute.String("realtime.filter", filter.String()))
	defer span.End()

	sub := &Subscription{ID: uuid.NewString(), Filter: filter, broker: b, done: make(chan struct{})}
	deliver := func(ev Event) {
		if sub.closed.Load() || !filter.Matches(ev) {
			return
		}
		handler(ev)
	}

	st, err := b.stream.Open(ctx, filter.Table, deliver)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	sub.stream = st

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	b.log.Debug("subscription opened", "sub_id", sub.ID, "filter", filter.String())
	return sub, nil
}

// Close does not wait for an in-flight handler call, so it may be called from a handler.
// Only the first call can return an error.
func (s *Subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		err = s.stream.Close()

		s.broker.mu.Lock()
		delete(s.broker.subs, s.ID)
		s.broker.mu.Unlock()

		s.broker.log.Debug("subscription closed", "sub_id", s.ID)
	})
	return err
}

// Active returns the number of open subscriptions.
func (b *Broker) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close releases every open subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		_ = s.Close()
	}
}
