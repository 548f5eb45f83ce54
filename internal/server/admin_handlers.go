package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lhwebs/bridged/internal/auth"
	"github.com/lhwebs/bridged/internal/routing"
	"go.uber.org/zap"
)

type adminLoginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *httpHandler) handleAdminLogin(c *gin.Context) {
	var request adminLoginPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Username) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.Login(request.Username, request.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn("admin login rejected",
				zap.String("username", request.Username),
				zap.String("ip", clientIP(c)),
			)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		h.logger.Error("admin token issue failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
	})
}

func (h *httpHandler) handleListDestinations(c *gin.Context) {
	destinations, err := h.registry.List()
	if err != nil {
		h.logger.Error("destination list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "registry_read_failed"})
		return
	}
	c.JSON(http.StatusOK, destinations)
}

type destinationPayload struct {
	ID          string  `json:"id"`
	Name        *string `json:"name"`
	URL         *string `json:"url"`
	FallbackURL *string `json:"fallback_url"`
	Status      *string `json:"status"`
}

func (h *httpHandler) handleCreateDestination(c *gin.Context) {
	var request destinationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	input := routing.CreateInput{}
	if request.Name != nil {
		input.Name = *request.Name
	}
	if request.URL != nil {
		input.PrimaryURL = *request.URL
	}
	if request.FallbackURL != nil {
		input.FallbackURL = *request.FallbackURL
	}
	if request.Status != nil {
		status, err := routing.ParseDestinationStatus(*request.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_status"})
			return
		}
		input.Status = status
	}

	destination, err := h.registry.Create(input)
	if err != nil {
		h.logger.Error("destination create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "registry_write_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "service": destination})
}

func (h *httpHandler) handleUpdateDestination(c *gin.Context) {
	var request destinationPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	input := routing.UpdateInput{
		ID:          request.ID,
		Name:        request.Name,
		PrimaryURL:  request.URL,
		FallbackURL: request.FallbackURL,
	}
	if request.Status != nil {
		status, err := routing.ParseDestinationStatus(*request.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_status"})
			return
		}
		input.Status = &status
	}

	if _, err := h.registry.Update(input); err != nil {
		if errors.Is(err, routing.ErrDestinationNotFound) {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "Service not found"})
			return
		}
		h.logger.Error("destination update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "registry_write_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleDeleteDestination(c *gin.Context) {
	var request destinationPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	if err := h.registry.Delete(request.ID); err != nil {
		if errors.Is(err, routing.ErrDestinationNotFound) {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "Service not found"})
			return
		}
		h.logger.Error("destination delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "registry_write_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) handleListAssignments(c *gin.Context) {
	page, perPage := paginationParams(c)

	records, err := h.store.List()
	if err != nil {
		h.logger.Error("assignment list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store_read_failed"})
		return
	}

	total := len(records)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{
		"data":     records[start:end],
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (h *httpHandler) handleListBehaviors(c *gin.Context) {
	page, perPage := paginationParams(c)

	events, total, err := h.trackingService.ListBehaviors(c.Request.Context(), page, perPage)
	if err != nil {
		h.logger.Error("behavior list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tracking_read_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":     events,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

func (h *httpHandler) handleGetSettings(c *gin.Context) {
	settings, err := h.settings.Load()
	if err != nil {
		h.logger.Error("settings load failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings_read_failed"})
		return
	}
	c.JSON(http.StatusOK, settings)
}

type settingsPayload struct {
	GateEnabled *bool `json:"cloaking_enhanced"`
}

func (h *httpHandler) handleUpdateSettings(c *gin.Context) {
	var request settingsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid_request"})
		return
	}

	settings, err := h.settings.Update(func(settings *routing.Settings) {
		if request.GateEnabled != nil {
			settings.GateEnabled = *request.GateEnabled
		}
	})
	if err != nil {
		h.logger.Error("settings update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "settings_write_failed"})
		return
	}

	h.logger.Info("settings updated", zap.Bool("cloaking_enhanced", settings.GateEnabled))
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": settings})
}

func paginationParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err := strconv.Atoi(c.DefaultQuery("per_page", "50"))
	if err != nil || perPage < 1 || perPage > 200 {
		perPage = 50
	}
	return page, perPage
}
