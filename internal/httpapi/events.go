package httpapi

import (
	"context"
	"net/http"
	"time"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/auth"
	"phone-gateway/internal/calls"
	"phone-gateway/internal/messaging"
	"phone-gateway/internal/realtime"

	"github.com/gin-gonic/gin"
)

const defaultHeartbeat = 25 * time.Second

type subscribeFunc func(ctx context.Context, number string, emit func(any)) (*realtime.Subscription, error)

func (h Handlers) StreamInboundCalls(c *gin.Context) {
	h.serveEvents(c, "call", func(ctx context.Context, number string, emit func(any)) (*realtime.Subscription, error) {
		return h.GW.SubscribeInboundCalls(ctx, number, func(l calls.CallLog) { emit(l) })
	})
}

func (h Handlers) StreamInboundSMS(c *gin.Context) {
	h.serveEvents(c, "sms", func(ctx context.Context, number string, emit func(any)) (*realtime.Subscription, error) {
		return h.GW.SubscribeInboundSMS(ctx, number, func(m messaging.Message) { emit(m) })
	})
}

// serveEvents holds one subscription for the lifetime of the request and writes
// each delivered row as a server-sent event.
func (h Handlers) serveEvents(c *gin.Context, event string, subscribe subscribeFunc) {
	ctx := c.Request.Context()
	number := c.Param("number")
	if err := h.authorizeNumber(ctx, number); err != nil {
		writeError(c, err)
		return
	}

	// Unbuffered: the stream goroutine waits for the writer, so rows are neither
	// dropped nor reordered.
	events := make(chan any)
	stopped := make(chan struct{})
	sub, err := subscribe(ctx, number, func(v any) {
		select {
		case events <- v:
		case <-stopped:
		}
	})
	if err != nil {
		writeError(c, apperr.Wrap(err, apperr.CodeInternal, "httpapi.subscribe", "subscription failed"))
		return
	}
	defer sub.Close()
	// Runs before sub.Close so a handler blocked on events is released first.
	defer close(stopped)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			// Gateway shutdown released the subscription.
			return
		case v := <-events:
			c.SSEvent(event, v)
			c.Writer.Flush()
		case t := <-ticker.C:
			c.SSEvent("ping", t.UTC().Format(time.RFC3339))
			c.Writer.Flush()
		}
	}
}

// authorizeNumber requires the caller to own number. Another owner's number
// reads as not found.
func (h Handlers) authorizeNumber(ctx context.Context, number string) error {
	const op = "httpapi.events"
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return apperr.AuthRequired(op)
	}
	n, err := h.GW.Numbers.Owner(ctx, number)
	if err != nil {
		return err
	}
	if n.AssignedTo != p.UserID {
		return apperr.NotFound(op, "phone number")
	}
	return nil
}
