package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"callbridge/internal/dispatch"
	"callbridge/internal/escalation"
	"callbridge/internal/records"
	"callbridge/internal/session"
	"callbridge/pkg/logger"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls    *escalation.Service
	Dispatch *dispatch.Coordinator
	Reports  *records.Service
	Records  records.Repository
	Tokens   *session.TokenManager

	// CallMaxWait is the default cap on a synchronous outbound call.
	CallMaxWait time.Duration
}

func (h Handlers) callMaxWait(seconds int) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if h.CallMaxWait > 0 {
		return h.CallMaxWait
	}
	return 10 * time.Minute
}

// --- Calls ---

type outboundCallRequest struct {
	PhoneNumber        string `json:"phone_number" binding:"required"`
	Instruction        string `json:"instruction"`
	Language           string `json:"language"`
	Voice              string `json:"voice"`
	MaxDurationSeconds int    `json:"max_duration_seconds"`
}

func (r outboundCallRequest) params() session.CallParams {
	return session.CallParams{
		Instruction: r.Instruction,
		Language:    r.Language,
		Voice:       r.Voice,
	}
}

// OutboundCall places a call, waits for the conversation to finish, and
// returns the transcript in the response.
func (h Handlers) OutboundCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	var req outboundCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	started := time.Now().UTC()
	res, cc, err := h.Calls.StartCall(c.Request.Context(), escalation.StartCallRequest{
		Destination: req.PhoneNumber,
		Params:      req.params(),
	})
	if err != nil {
		h.saveRecord(c, records.CallRecord{
			Destination: req.PhoneNumber,
			Status:      records.StatusFailed,
			CreatedAt:   started,
			EndedAt:     time.Now().UTC(),
		})
		abortWithFailure(c, err)
		return
	}

	// The call outlives the request context on purpose; only the max
	// duration bounds it.
	timer := time.NewTimer(h.callMaxWait(req.MaxDurationSeconds))
	defer timer.Stop()
	timedOut := false
	select {
	case <-cc.Done():
	case <-timer.C:
		logger.FromGin(c).Warn("call exceeded max duration, ending", "room", res.RoomName)
		h.Calls.End(c.Request.Context(), res.RoomName)
		<-cc.Done()
		timedOut = true
	}

	// A call cut off at the duration cap is not a clean completion;
	// reports must be able to tell the two apart.
	status := records.StatusSuccess
	message := "call completed"
	if timedOut {
		status = records.StatusFailed
		message = "call ended at max duration"
	}

	rec := records.CallRecord{
		CallID:            res.CallID,
		RoomName:          res.RoomName,
		LegID:             res.LegID,
		Destination:       req.PhoneNumber,
		EscalationEnabled: res.EscalationEnabled,
		FinalState:        string(cc.State()),
		Transcript:        cc.Transcript(),
		Status:            status,
		CreatedAt:         started,
		EndedAt:           time.Now().UTC(),
	}
	h.saveRecord(c, rec)

	c.JSON(http.StatusOK, gin.H{
		"status":  string(status),
		"message": message,
		"details": gin.H{
			"call_id":            res.CallID,
			"room_name":          res.RoomName,
			"leg_id":             res.LegID,
			"escalation_enabled": res.EscalationEnabled,
			"final_state":        string(cc.State()),
		},
		"transcript": cc.Transcript(),
	})
}

// OutboundCallWithEscalation places a call and returns immediately with the
// identifiers; the escalation loop keeps running for the call's lifetime.
func (h Handlers) OutboundCallWithEscalation(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	var req outboundCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	started := time.Now().UTC()
	res, _, err := h.Calls.StartCall(c.Request.Context(), escalation.StartCallRequest{
		Destination: req.PhoneNumber,
		Params:      req.params(),
	})
	if err != nil {
		abortWithFailure(c, err)
		return
	}
	h.saveRecord(c, records.CallRecord{
		CallID:            res.CallID,
		RoomName:          res.RoomName,
		LegID:             res.LegID,
		Destination:       req.PhoneNumber,
		EscalationEnabled: res.EscalationEnabled,
		Status:            records.StatusSuccess,
		CreatedAt:         started,
	})

	c.JSON(http.StatusOK, gin.H{
		"status":             "success",
		"call_id":            res.CallID,
		"room_name":          res.RoomName,
		"leg_id":             res.LegID,
		"escalation_enabled": res.EscalationEnabled,
	})
}

// --- Bulk ---

// BulkSend runs a multi-channel job and returns per-contact results.
func (h Handlers) BulkSend(c *gin.Context) {
	if h.Dispatch == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatch not configured"})
		return
	}
	var job dispatch.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	results, err := h.Dispatch.Dispatch(c.Request.Context(), job)
	if err != nil {
		abortWithFailure(c, err)
		return
	}

	failed := 0
	for _, res := range results {
		if res.CallStatus == records.StatusFailed || res.SMSStatus == records.StatusFailed || res.EmailStatus == records.StatusFailed {
			failed++
		}
	}
	status := "success"
	message := "all contacts processed"
	switch {
	case failed == len(results):
		status = "failed"
		message = "every contact had at least one failed channel"
	case failed > 0:
		status = "partial"
		message = "some contacts had failed channels"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"message":        message,
		"total_contacts": len(results),
		"results":        results,
	})
}

// --- Reports ---

// CallsReport aggregates stored call records over a time range. Defaults
// to the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	now := time.Now().UTC()
	rng := records.TimeRange{From: now.Add(-24 * time.Hour), To: now}
	if v := c.Query("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		rng.From = parsed
	}
	if v := c.Query("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		rng.To = parsed
	}

	sum, err := h.Reports.CallsSummary(c.Request.Context(), rng)
	if err != nil {
		if errors.Is(err, records.ErrInvalidRange) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Driver webhook ---

type driverEventPayload struct {
	RoomName   string `json:"room_name" binding:"required"`
	Type       string `json:"type" binding:"required"`
	Reason     string `json:"reason"`
	Transcript string `json:"transcript"`
}

// DriverEvent ingests conversational-driver signals: escalation requests,
// supervisor readiness, and call completion with the transcript.
func (h Handlers) DriverEvent(c *gin.Context) {
	if h.Calls == nil || h.Tokens == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	tok := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if tok == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}
	if _, err := h.Tokens.VerifyWebhook(tok, time.Now()); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token invalid"})
		return
	}

	var payload driverEventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var ev escalation.DriverEvent
	switch payload.Type {
	case "escalation_requested":
		ev = escalation.EscalationRequested{Reason: payload.Reason}
	case "supervisor_ready":
		ev = escalation.SupervisorReady{}
	case "call_ended":
		ev = escalation.CallEnded{Transcript: payload.Transcript}
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
		return
	}

	if err := h.Calls.Deliver(payload.RoomName, ev); err != nil {
		switch {
		case errors.Is(err, escalation.ErrUnknownRoom):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown room"})
		case errors.Is(err, escalation.ErrAlreadyInProgress):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":  records.CodeEscalationAlreadyInProgress,
				"detail": err.Error(),
			})
		case errors.Is(err, escalation.ErrContextClosed):
			c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": "call already concluded"})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "event delivery failed"})
		}
		return
	}
	logger.FromGin(c).Debug("driver event accepted", "room", payload.RoomName, "type", payload.Type)
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// --- helpers ---

func (h Handlers) saveRecord(c *gin.Context, rec records.CallRecord) {
	if h.Records == nil {
		return
	}
	if err := h.Records.SaveCallRecord(c.Request.Context(), rec); err != nil {
		logger.FromGin(c).Error("call record save failed", "error", err)
	}
}

// abortWithFailure maps internal errors onto the stable failure codes and
// an appropriate HTTP status.
func abortWithFailure(c *gin.Context, err error) {
	code := records.FailureCodeFor(err)
	status := http.StatusInternalServerError
	switch code {
	case records.CodeInvalidDestination:
		status = http.StatusBadRequest
	case records.CodeProviderUnavailable:
		status = http.StatusBadGateway
	case records.CodeDialFailure:
		status = http.StatusBadGateway
	case records.CodeEscalationAlreadyInProgress:
		status = http.StatusConflict
	case records.CodeNoSupervisorConfigured:
		status = http.StatusConflict
	}
	if errors.Is(err, dispatch.ErrInvalidJob) {
		status = http.StatusBadRequest
		code = "invalid_job"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "detail": err.Error()})
}
