package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"phone-gateway/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// dialFunc opens a connection and returns its publishing channel plus a func that
// closes the connection.
type dialFunc func() (publisher, func() error, error)

var errForwarderClosed = errors.New("realtime: amqp forwarder closed")

const defaultRedialInterval = time.Second

// AMQPForwarder republishes inbound events to a durable RabbitMQ queue.
// A lost connection is redialed on the next publish, at most once per redial interval.
type AMQPForwarder struct {
	queue string
	log   *slog.Logger

	dial           dialFunc
	redialInterval time.Duration

	mu        sync.Mutex
	ch        publisher
	closeConn func() error
	nextDial  time.Time
	closed    bool
}

// forwardedEvent is the message body published for every forwarded row.
type forwardedEvent struct {
	Kind        string          `json:"kind"`
	Table       string          `json:"table"`
	Record      json.RawMessage `json:"record"`
	ForwardedAt time.Time       `json:"forwarded_at"`
}

func DialAMQP(url, queue string, log *slog.Logger) (*AMQPForwarder, error) {
	f := newAMQPForwarder(nil, queue, log)
	f.dial = func() (publisher, func() error, error) {
		return dialAMQP(url, queue, f.lost)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.connectLocked(); err != nil {
		return nil, err
	}
	return f, nil
}

func dialAMQP(url, queue string, onLost func(publisher, error)) (publisher, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("realtime: amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("realtime: amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("realtime: declare queue %s: %w", queue, err)
	}

	// A graceful Close closes the notify channel without an error.
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if cerr := <-closed; cerr != nil {
			onLost(ch, cerr)
		}
	}()
	return ch, conn.Close, nil
}

func newAMQPForwarder(ch publisher, queue string, log *slog.Logger) *AMQPForwarder {
	return &AMQPForwarder{
		queue:          queue,
		ch:             ch,
		redialInterval: defaultRedialInterval,
		log:            logger.Component(log, "realtime_amqp"),
	}
}

// lost drops ch if it is still the active channel.
func (f *AMQPForwarder) lost(ch publisher, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch != ch {
		return
	}
	f.log.Warn("amqp connection lost", "queue", f.queue, "err", err)
	f.ch, f.closeConn = nil, nil
}

func (f *AMQPForwarder) connectLocked() error {
	if f.dial == nil {
		return errors.New("realtime: amqp forwarder not connected")
	}
	if now := time.Now(); now.Before(f.nextDial) {
		return fmt.Errorf("realtime: amqp redial in %s", f.nextDial.Sub(now).Round(time.Millisecond))
	}
	ch, closeConn, err := f.dial()
	if err != nil {
		f.nextDial = time.Now().Add(f.redialInterval)
		return err
	}
	f.ch, f.closeConn = ch, closeConn
	f.log.Info("amqp connected", "queue", f.queue)
	return nil
}

func (f *AMQPForwarder) resetLocked() {
	if f.closeConn != nil {
		_ = f.closeConn()
	}
	f.ch, f.closeConn = nil, nil
}

func (f *AMQPForwarder) publish(ctx context.Context, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errForwarderClosed
	}
	if f.ch == nil {
		if err := f.connectLocked(); err != nil {
			return err
		}
	}
	err := f.ch.PublishWithContext(ctx, "", f.queue, false, false, msg)
	if !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	// The close notification has not arrived yet; reconnect and retry once.
	f.resetLocked()
	if cerr := f.connectLocked(); cerr != nil {
		return errors.Join(err, cerr)
	}
	return f.ch.PublishWithContext(ctx, "", f.queue, false, false, msg)
}

// Handler returns a Handler that publishes each event tagged with kind.
// Publish failures are logged; the subscription keeps running.
func (f *AMQPForwarder) Handler(kind string) Handler {
	return func(ev Event) {
		body, err := json.Marshal(forwardedEvent{Kind: kind, Table: ev.Table, Record: ev.Record, ForwardedAt: time.Now().UTC()})
		if err != nil {
			f.log.Error("forward encode failed", "kind", kind, "err", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err = f.publish(ctx, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.RowID(),
			Body:         body,
		})
		if err != nil {
			f.log.Error("forward publish failed", "kind", kind, "queue", f.queue, "err", err)
			return
		}
		f.log.Debug("event forwarded", "kind", kind, "queue", f.queue)
	}
}

func (f *AMQPForwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	var err error
	if f.closeConn != nil {
		err = f.closeConn()
	}
	f.ch, f.closeConn = nil, nil
	return err
}
