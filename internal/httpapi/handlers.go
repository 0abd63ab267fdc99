package httpapi

import (
	"net/http"
	"time"

	"phone-gateway/internal/apperr"
	"phone-gateway/internal/calls"
	"phone-gateway/internal/gateway"
	"phone-gateway/internal/telephony"
	"phone-gateway/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// They parse input, call the gateway and render JSON.
type Handlers struct {
	GW *gateway.Gateway

	// WebhookSecret verifies provider webhook signatures. Empty disables verification.
	WebhookSecret string

	// Heartbeat is the SSE keep-alive interval. Zero means 25s.
	Heartbeat time.Duration
}

// writeError renders err with the status of its taxonomy code. Internal and
// store failures are logged and rendered without detail.
func writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	code := apperr.CodeOf(err)
	_ = c.Error(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.FromGin(c).Error("request failed", "code", code, "err", err)
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": apperr.CodeInvalidInput})
}

// --- Numbers ---

func (h Handlers) ListNumbers(c *gin.Context) {
	out, err := h.GW.Numbers.ListOwned(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": out})
}

func (h Handlers) SearchNumbers(c *gin.Context) {
	var q telephony.SearchQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		badRequest(c, "invalid json")
		return
	}
	out, err := h.GW.Numbers.SearchAvailable(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"numbers": out})
}

type provisionRequest struct {
	PhoneNumber  string `json:"phone_number"`
	FriendlyName string `json:"friendly_name"`
}

func (h Handlers) ProvisionNumber(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	n, err := h.GW.Numbers.Provision(c.Request.Context(), req.PhoneNumber, req.FriendlyName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, n)
}

// --- Calls ---

func (h Handlers) InitiateCall(c *gin.Context) {
	var req calls.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	res, err := h.GW.Calls.Initiate(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

func (h Handlers) CallHistory(c *gin.Context) {
	out, err := h.GW.Calls.History(c.Request.Context(), c.Query("number"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

func (h Handlers) CallDetails(c *gin.Context) {
	out, err := h.GW.Calls.Details(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) CallRecording(c *gin.Context) {
	out, err := h.GW.Calls.Recording(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) ActiveSessions(c *gin.Context) {
	out, err := h.GW.Calls.ActiveSessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h Handlers) EndSession(c *gin.Context) {
	if err := h.GW.Calls.EndSession(c.Request.Context(), calls.SessionID(c.Param("id"))); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type muteRequest struct {
	Muted *bool `json:"muted"`
}

func (h Handlers) MuteSession(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Muted == nil {
		badRequest(c, "muted is required")
		return
	}
	if err := h.GW.Calls.SetMuted(c.Request.Context(), calls.SessionID(c.Param("id")), *req.Muted); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": *req.Muted})
}

// --- SMS ---

type sendSMSRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

func (h Handlers) SendSMS(c *gin.Context) {
	var req sendSMSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	m, err := h.GW.Messaging.Send(c.Request.Context(), req.From, req.To, req.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, m)
}

func (h Handlers) Conversations(c *gin.Context) {
	out, err := h.GW.Messaging.Conversations(c.Request.Context(), c.Query("number"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (h Handlers) Messages(c *gin.Context) {
	out, err := h.GW.Messaging.Messages(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

// --- Usage ---

// NumberUsage requires the number to belong to the caller before folding its records.
func (h Handlers) NumberUsage(c *gin.Context) {
	ctx := c.Request.Context()
	n, err := h.GW.Numbers.Get(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	out, err := h.GW.Usage.Summarize(ctx, n.ID, c.Query("period"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) UsageSummary(c *gin.Context) {
	start, err1 := time.Parse(time.DateOnly, c.Query("start"))
	end, err2 := time.Parse(time.DateOnly, c.Query("end"))
	if err1 != nil || err2 != nil {
		badRequest(c, "start and end must be YYYY-MM-DD")
		return
	}
	out, err := h.GW.Usage.ProviderSummary(c.Request.Context(), start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
