package gateway

import (
	"context"
	"time"

	"phone-gateway/internal/realtime"
)

// Forwarded event kinds.
const (
	KindInboundCall = "inbound_call"
	KindInboundSMS  = "inbound_sms"
)

// Sink publishes events of one kind elsewhere, e.g. realtime.AMQPForwarder.
type Sink interface {
	Handler(kind string) realtime.Handler
}

// ForwardInbound subscribes to every inbound call and message, across all
// numbers, and hands each row to sink once. Repeats after a stream reconnect are
// dropped for dedupeTTL. The returned stop func closes both subscriptions.
func (g *Gateway) ForwardInbound(ctx context.Context, sink Sink, dedupeTTL time.Duration) (func(), error) {
	inbound := realtime.Eq("direction", "inbound")
	routes := []struct {
		filter realtime.Filter
		kind   string
	}{
		{realtime.Filter{Table: TableCallLogs, Conditions: []realtime.Condition{inbound}}, KindInboundCall},
		{realtime.Filter{Table: TableSMSMessages, Conditions: []realtime.Condition{inbound}}, KindInboundSMS},
	}

	subs := make([]*realtime.Subscription, 0, len(routes))
	stop := func() {
		for _, s := range subs {
			_ = s.Close()
		}
	}
	for _, r := range routes {
		s, err := g.Events.Subscribe(ctx, r.filter, realtime.Dedupe(sink.Handler(r.kind), dedupeTTL))
		if err != nil {
			stop()
			return nil, err
		}
		subs = append(subs, s)
	}
	g.log.Info("forwarding inbound events", "subscriptions", len(subs))
	return stop, nil
}
