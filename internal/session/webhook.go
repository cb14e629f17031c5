package session

import (
	"net/http"
	"strings"
	"time"

	"callbridge/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandler ingests leg status callbacks from the session provider and
// publishes them into the Hub. It is the only inbound surface the provider
// has; everything else is request/response.
//
// Keep it adapter-only: no orchestration decisions are made here.
type WebhookHandler struct {
	Tokens *TokenManager
	Hub    *Hub

	// Clock is injectable for deterministic tests.
	Clock func() time.Time
}

type legEventPayload struct {
	LegID  string `json:"leg_id" binding:"required"`
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
	At     string `json:"at"`
}

// HandleLegEvent verifies the provider token and fans the event out.
func (h WebhookHandler) HandleLegEvent(c *gin.Context) {
	now := time.Now
	if h.Clock != nil {
		now = h.Clock
	}

	tok := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if tok == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}
	if _, err := h.Tokens.VerifyWebhook(tok, now()); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token invalid"})
		return
	}

	var payload legEventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	status := LegStatus(payload.Status)
	switch status {
	case LegDialing, LegConnected, LegOnHold, LegMerged, LegEnded, LegFailed:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown status"})
		return
	}

	at := now()
	if payload.At != "" {
		if parsed, err := time.Parse(time.RFC3339, payload.At); err == nil {
			at = parsed
		}
	}

	h.Hub.Publish(LegEvent{
		LegID:  payload.LegID,
		Status: status,
		Reason: payload.Reason,
		At:     at,
	})
	logger.FromGin(c).Debug("leg event", "leg_id", payload.LegID, "status", payload.Status)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
