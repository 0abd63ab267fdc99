package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"phone-gateway/pkg/logger"

	"github.com/jackc/pgx/v5"
)

// PGNotifyStream listens on a Postgres NOTIFY channel fed by an AFTER INSERT
// trigger that publishes {"table": ..., "record": row_to_json(NEW)}.
// Each Open holds its own listener connection.
type PGNotifyStream struct {
	dsn        string
	channel    string
	minBackoff time.Duration
	maxBackoff time.Duration
	log        *slog.Logger
}

func NewPGNotifyStream(dsn, channel string, log *slog.Logger) *PGNotifyStream {
	return &PGNotifyStream{
		dsn:        dsn,
		channel:    channel,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		log:        logger.Component(log, "realtime_pg"),
	}
}

type pgHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the listener. It does not wait for the listener goroutine so that
// it is safe to call from inside a handler.
func (h *pgHandle) Close() error {
	h.cancel()
	return nil
}

func (p *PGNotifyStream) Open(ctx context.Context, table string, deliver func(Event)) (Stream, error) {
	conn, err := p.listen(ctx)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithCancel(context.Background())
	h := &pgHandle{cancel: cancel, done: make(chan struct{})}
	go p.run(runCtx, conn, table, deliver, h.done)
	return h, nil
}

func (p *PGNotifyStream) listen(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, p.dsn)
	if err != nil {
		return nil, fmt.Errorf("realtime: connect listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("realtime: listen %s: %w", p.channel, err)
	}
	return conn, nil
}

func (p *PGNotifyStream) run(ctx context.Context, conn *pgx.Conn, table string, deliver func(Event), done chan struct{}) {
	defer close(done)
	defer func() {
		if conn != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = conn.Close(closeCtx)
			cancel()
		}
	}()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Warn("listener dropped, reconnecting", "table", table, "err", err)
			_ = conn.Close(context.Background())
			conn = p.reconnect(ctx)
			if conn == nil {
				return
			}
			continue
		}

		ev, err := parseNotification(n.Payload)
		if err != nil {
			p.log.Warn("notification decode failed", "channel", n.Channel, "err", err)
			continue
		}
		if ev.Table != table {
			continue
		}
		deliver(ev)
	}
}

// reconnect retries with exponential backoff until it succeeds or ctx ends.
// Inserts committed while disconnected are not replayed.
func (p *PGNotifyStream) reconnect(ctx context.Context) *pgx.Conn {
	backoff := p.minBackoff
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		conn, err := p.listen(ctx)
		if err == nil {
			p.log.Info("listener reconnected", "channel", p.channel)
			return conn
		}
		p.log.Warn("listener reconnect failed", "err", err, "backoff", backoff.String())
		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

func parseNotification(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, err
	}
	if ev.Table == "" || len(ev.Record) == 0 {
		return Event{}, fmt.Errorf("realtime: notification missing table or record")
	}
	return ev, nil
}
