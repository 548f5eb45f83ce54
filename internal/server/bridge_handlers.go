package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lhwebs/bridged/internal/routing"
	"go.uber.org/zap"
)

type infoRequestPayload struct {
	StockCode   string `json:"stockcode"`
	Text        string `json:"text"`
	OriginalRef string `json:"original_ref"`
}

type infoResponsePayload struct {
	StatusCode          string `json:"statusCode"`
	ID                  string `json:"id"`
	CustomerServiceURL  string `json:"CustomerServiceUrl"`
	CustomerServiceName string `json:"CustomerServiceName"`
	Links               string `json:"Links"`
}

func (h *httpHandler) handleGetInfo(c *gin.Context) {
	// A malformed body degrades to empty fields rather than a 400: the gate
	// and capacity checks still apply and the visitor still gets routed.
	var request infoRequestPayload
	_ = c.ShouldBindJSON(&request)

	assignment, err := h.routingService.Assign(c.Request.Context(), routing.AssignInput{
		StockCode:        request.StockCode,
		FreeText:         request.Text,
		OriginalReferrer: request.OriginalRef,
		RefererHeader:    c.GetHeader("Referer"),
		UserAgent:        c.GetHeader("User-Agent"),
		ClientIP:         clientIP(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, routing.ErrGateDenied):
			c.JSON(http.StatusForbidden, gin.H{"statusCode": "error", "message": "Access denied"})
		case errors.Is(err, routing.ErrNoDestination):
			c.JSON(http.StatusServiceUnavailable, gin.H{"statusCode": "error", "message": "No customer service available"})
		default:
			h.logger.Error("assignment failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"statusCode": "error", "message": "Internal error"})
		}
		return
	}

	c.JSON(http.StatusOK, infoResponsePayload{
		StatusCode:          "ok",
		ID:                  assignment.RecordID,
		CustomerServiceURL:  assignment.DestinationURL,
		CustomerServiceName: assignment.DestinationName,
		Links:               assignment.FallbackURL,
	})
}

type pageLeavePayload struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Action  string `json:"action"`
}

func (h *httpHandler) handlePageLeave(c *gin.Context) {
	var request pageLeavePayload
	_ = c.ShouldBindJSON(&request)

	// Beacons always ack: the client is mid-navigation and cannot act on a
	// failure anyway. A stale id was already swallowed by the service.
	if err := h.routingService.RecordPageLeave(c.Request.Context(), request.ID, request.Success, request.Action); err != nil {
		h.logger.Error("page leave update failed", zap.Error(err), zap.String("record_id", request.ID))
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type pageLeaveURLPayload struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Action string `json:"action"`
}

func (h *httpHandler) handlePageLeaveURL(c *gin.Context) {
	var request pageLeaveURLPayload
	_ = c.ShouldBindJSON(&request)

	if err := h.routingService.RecordFallback(c.Request.Context(), request.ID, request.URL, request.Action); err != nil {
		h.logger.Error("fallback update failed", zap.Error(err), zap.String("record_id", request.ID))
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
