// Package gateway composes the directory, call manager, messaging, usage and
// event broker behind one value built from explicit dependencies.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"phone-gateway/internal/calls"
	"phone-gateway/internal/media"
	"phone-gateway/internal/messaging"
	"phone-gateway/internal/numbers"
	"phone-gateway/internal/realtime"
	"phone-gateway/internal/telephony"
	"phone-gateway/internal/usage"
	"phone-gateway/pkg/logger"
)

// Change-stream tables carrying inbound traffic.
const (
	TableCallLogs    = "call_logs"
	TableSMSMessages = "sms_messages"
)

type Deps struct {
	Numbers  numbers.Repository
	Calls    calls.Repository
	Sessions calls.Registry
	Messages messaging.Repository
	Usage    usage.Repository

	Provider telephony.TelephonyProvider
	Media    media.Transport
	Stream   realtime.ChangeStream

	Log *slog.Logger
}

type Options struct {
	DefaultTransport calls.Transport
	MaxSessions      int
	SessionTTL       time.Duration
}

type Gateway struct {
	Numbers   *numbers.Directory
	Calls     *calls.Manager
	Messaging *messaging.Service
	Usage     *usage.Service
	Events    *realtime.Broker

	log *slog.Logger
}

func New(d Deps, opts Options) *Gateway {
	dir := numbers.NewDirectory(d.Numbers, d.Provider, d.Log)
	return &Gateway{
		Numbers: dir,
		Calls: calls.NewManager(calls.Deps{
			Repo:     d.Calls,
			Registry: d.Sessions,
			Provider: d.Provider,
			Media:    d.Media,
			Owners:   dir,
			Log:      d.Log,
		}, calls.Options{
			DefaultTransport: opts.DefaultTransport,
			MaxSessions:      opts.MaxSessions,
			SessionTTL:       opts.SessionTTL,
		}),
		Messaging: messaging.NewService(d.Messages, d.Provider, dir, d.Log),
		Usage:     usage.NewService(d.Usage, d.Provider),
		Events:    realtime.NewBroker(d.Stream, d.Log),
		log:       logger.Component(d.Log, "gateway"),
	}
}

// InboundCallsFilter matches call log inserts addressed to number.
func InboundCallsFilter(number string) realtime.Filter {
	return realtime.Filter{Table: TableCallLogs, Conditions: []realtime.Condition{realtime.Eq("to_number", number)}}
}

// InboundSMSFilter matches inbound message inserts addressed to number.
func InboundSMSFilter(number string) realtime.Filter {
	return realtime.Filter{Table: TableSMSMessages, Conditions: []realtime.Condition{
		realtime.Eq("to_number", number),
		realtime.Eq("direction", string(messaging.DirectionInbound)),
	}}
}

// SubscribeInboundCalls delivers each call log inserted for number. The caller owns
// the returned subscription and must close it.
func (g *Gateway) SubscribeInboundCalls(ctx context.Context, number string, fn func(calls.CallLog)) (*realtime.Subscription, error) {
	return g.Events.Subscribe(ctx, InboundCallsFilter(number), func(ev realtime.Event) {
		c, err := realtime.Decode[calls.CallLog](ev)
		if err != nil {
			g.log.Warn("undecodable call row", "row_id", ev.RowID(), "err", err)
			return
		}
		fn(c)
	})
}

// SubscribeInboundSMS delivers each inbound message inserted for number.
func (g *Gateway) SubscribeInboundSMS(ctx context.Context, number string, fn func(messaging.Message)) (*realtime.Subscription, error) {
	return g.Events.Subscribe(ctx, InboundSMSFilter(number), func(ev realtime.Event) {
		m, err := realtime.Decode[messaging.Message](ev)
		if err != nil {
			g.log.Warn("undecodable message row", "row_id", ev.RowID(), "err", err)
			return
		}
		fn(m)
	})
}

// IngestInboundCall records a provider-reported call against the owner of ev.To.
// The store's insert notification then reaches subscribers.
func (g *Gateway) IngestInboundCall(ctx context.Context, ev telephony.InboundCallEvent) (calls.CallLog, error) {
	owner, err := g.Numbers.Owner(ctx, ev.To)
	if err != nil {
		return calls.CallLog{}, err
	}
	return g.Calls.RecordInbound(ctx, owner, ev)
}

func (g *Gateway) IngestInboundSMS(ctx context.Context, ev telephony.InboundSMSEvent) (messaging.Message, error) {
	owner, err := g.Numbers.Owner(ctx, ev.To)
	if err != nil {
		return messaging.Message{}, err
	}
	return g.Messaging.RecordInbound(ctx, owner, ev)
}

// Close releases every live subscription.
func (g *Gateway) Close() {
	g.Events.Close()
}
