package httpapi

import "github.com/gin-gonic/gin"

// Register mounts the gateway API. identify attaches the caller's principal when a
// bearer token is present; webhooks are authenticated by signature instead.
func (h Handlers) Register(r gin.IRouter, identify gin.HandlerFunc) {
	hooks := r.Group("/webhooks/provider")
	{
		hooks.POST("/voice", h.ProviderVoiceWebhook)
		hooks.POST("/sms", h.ProviderSMSWebhook)
	}

	v1 := r.Group("/v1")
	v1.Use(identify)

	numbers := v1.Group("/numbers")
	{
		numbers.GET("", h.ListNumbers)
		numbers.POST("", h.ProvisionNumber)
		numbers.POST("/search", h.SearchNumbers)
	}

	calls := v1.Group("/calls")
	{
		calls.POST("", h.InitiateCall)
		calls.GET("", h.CallHistory)
		calls.GET("/:id", h.CallDetails)
		calls.GET("/:id/recording", h.CallRecording)
	}

	sessions := v1.Group("/sessions")
	{
		sessions.GET("", h.ActiveSessions)
		sessions.DELETE("/:id", h.EndSession)
		sessions.POST("/:id/mute", h.MuteSession)
	}

	sms := v1.Group("/sms")
	{
		sms.POST("", h.SendSMS)
		sms.GET("/conversations", h.Conversations)
		sms.GET("/conversations/:id/messages", h.Messages)
	}

	usage := v1.Group("/usage")
	{
		usage.GET("/numbers/:id", h.NumberUsage)
		usage.GET("/summary", h.UsageSummary)
	}

	events := v1.Group("/events")
	{
		events.GET("/calls/:number", h.StreamInboundCalls)
		events.GET("/sms/:number", h.StreamInboundSMS)
	}
}
