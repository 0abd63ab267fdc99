package httpapi

import (
	"bytes"
	"io"
	"net/http"

	"phone-gateway/internal/telephony"
	"phone-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

const maxWebhookBody = 64 << 10

// verifyWebhook checks the provider signature over the raw body and restores the
// body for form parsing.
func (h Handlers) verifyWebhook(c *gin.Context) bool {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return false
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	if err := telephony.VerifySignature(h.WebhookSecret, body, c.GetHeader(telephony.SignatureHeader)); err != nil {
		logger.FromGin(c).Warn("webhook signature rejected", "path", c.FullPath())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return false
	}
	return true
}

// ProviderVoiceWebhook records an inbound call reported by the provider.
func (h Handlers) ProviderVoiceWebhook(c *gin.Context) {
	if !h.verifyWebhook(c) {
		return
	}
	ev, err := telephony.ParseInboundCall(c.Request)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	l, err := h.GW.IngestInboundCall(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": l.ID})
}

// ProviderSMSWebhook records an inbound message reported by the provider.
func (h Handlers) ProviderSMSWebhook(c *gin.Context) {
	if !h.verifyWebhook(c) {
		return
	}
	ev, err := telephony.ParseInboundSMS(c.Request)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	m, err := h.GW.IngestInboundSMS(c.Request.Context(), ev)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": m.ID, "conversation_id": m.ConversationID})
}
