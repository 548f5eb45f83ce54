package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lhwebs/bridged/internal/tracking"
)

type pageTrackPayload struct {
	SessionID  string `json:"session_id"`
	ActionType string `json:"action_type"`
	StockName  string `json:"stock_name"`
	StockCode  string `json:"stock_code"`
	URL        string `json:"url"`
}

func (h *httpHandler) handlePageTrack(c *gin.Context) {
	var request pageTrackPayload
	_ = c.ShouldBindJSON(&request)

	event := h.trackingService.RecordBehavior(c.Request.Context(), tracking.BehaviorEvent{
		SessionID:  request.SessionID,
		ActionType: request.ActionType,
		StockName:  request.StockName,
		StockCode:  request.StockCode,
		URL:        request.URL,
		UserAgent:  c.GetHeader("User-Agent"),
		ClientIP:   clientIP(c),
		Timezone:   c.GetHeader("timezone"),
		Language:   c.GetHeader("language"),
		Referer:    c.GetHeader("Referer"),
	})

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"message":    "Tracking data recorded",
		"session_id": event.SessionID,
	})
}

type logErrorPayload struct {
	Message   string `json:"message"`
	Stack     string `json:"stack"`
	Phase     string `json:"phase"`
	StockCode string `json:"stockcode"`
	Href      string `json:"href"`
	Ref       string `json:"ref"`
	TS        int64  `json:"ts"`
}

func (h *httpHandler) handleLogError(c *gin.Context) {
	var request logErrorPayload
	_ = c.ShouldBindJSON(&request)

	h.trackingService.RecordError(c.Request.Context(), tracking.ErrorReport{
		Message:   request.Message,
		Stack:     request.Stack,
		Phase:     request.Phase,
		StockCode: request.StockCode,
		Href:      request.Href,
		Referrer:  request.Ref,
		ClientTS:  request.TS,
		UserAgent: c.GetHeader("User-Agent"),
		ClientIP:  clientIP(c),
	})

	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Error logged"})
}
