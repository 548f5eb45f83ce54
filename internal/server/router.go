package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/lhwebs/bridged/internal/bridge"
	"github.com/lhwebs/bridged/internal/routing"
	"github.com/lhwebs/bridged/internal/tracking"
	"go.uber.org/zap"
)

const adminSubjectContextKey = "bridged_admin_subject"

var (
	errMissingRoutingService  = errors.New("routing service dependency required")
	errMissingRegistry        = errors.New("destination registry dependency required")
	errMissingStore           = errors.New("assignment store dependency required")
	errMissingSettings        = errors.New("settings store dependency required")
	errMissingTrackingService = errors.New("tracking service dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// AdminTokenManager issues and validates admin session tokens.
type AdminTokenManager interface {
	Login(username, password string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer.
type Dependencies struct {
	RoutingService  *routing.Service
	Registry        *routing.Registry
	Store           *routing.Store
	Settings        *routing.SettingsStore
	TrackingService *tracking.Service
	TokenManager    AdminTokenManager
	Logger          *zap.Logger
}

// NewHTTPHandler builds the gin handler serving the bridge flow, telemetry
// sinks and the admin API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.RoutingService == nil {
		return nil, errMissingRoutingService
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Settings == nil {
		return nil, errMissingSettings
	}
	if deps.TrackingService == nil {
		return nil, errMissingTrackingService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "timezone", "language"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		routingService:  deps.RoutingService,
		registry:        deps.Registry,
		store:           deps.Store,
		settings:        deps.Settings,
		trackingService: deps.TrackingService,
		tokens:          deps.TokenManager,
		logger:          logger,
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/jpint", handler.handleBridgePage)

	api := router.Group("/app/maike/api")
	{
		customerService := api.Group("/customerservice")
		customerService.POST("/get_info", handler.handleGetInfo)
		customerService.POST("/page_leave", handler.handlePageLeave)
		customerService.POST("/page_leaveurl", handler.handlePageLeaveURL)

		info := api.Group("/info")
		info.POST("/page_track", handler.handlePageTrack)
		info.POST("/logError", handler.handleLogError)
	}

	admin := router.Group("/admin/api")
	admin.POST("/login", handler.handleAdminLogin)
	protected := admin.Group("/")
	protected.Use(handler.authorizeRequest)
	{
		protected.GET("/customer-services", handler.handleListDestinations)
		protected.POST("/customer-services", handler.handleCreateDestination)
		protected.PUT("/customer-services", handler.handleUpdateDestination)
		protected.DELETE("/customer-services", handler.handleDeleteDestination)
		protected.GET("/assignments", handler.handleListAssignments)
		protected.GET("/user-behaviors", handler.handleListBehaviors)
		protected.GET("/settings", handler.handleGetSettings)
		protected.POST("/settings", handler.handleUpdateSettings)
	}

	return router, nil
}

type httpHandler struct {
	routingService  *routing.Service
	registry        *routing.Registry
	store           *routing.Store
	settings        *routing.SettingsStore
	trackingService *tracking.Service
	tokens          AdminTokenManager
	logger          *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *httpHandler) handleBridgePage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", bridge.PageHTML)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("admin token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(adminSubjectContextKey, subject)
	c.Next()
}

// clientIP prefers the forwarding headers set by the edge proxy, matching
// what the admin panel's geo lookups expect.
func clientIP(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if realIP := c.GetHeader("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.ClientIP()
}
