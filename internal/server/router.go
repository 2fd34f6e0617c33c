package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/configledger/internal/auth"
	"github.com/MarcoPoloResearchLab/configledger/internal/configs"
	"github.com/MarcoPoloResearchLab/configledger/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	actorContextKey     = "configledger_actor"
	requestIDContextKey = "configledger_request_id"
	requestIDHeader     = "X-Request-ID"
	apiBasePath         = "/api/v1"

	defaultFeedHeartbeat = 25 * time.Second
)

var (
	errMissingService          = errors.New("configs service dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingRealtime         = errors.New("realtime dispatcher dependency required")
)

// SessionValidator authenticates an incoming request.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.OperatorClaims, error)
}

// Dependencies wires the HTTP surface. Metrics and Logger are optional.
type Dependencies struct {
	Service          *configs.Service
	SessionValidator SessionValidator
	Realtime         *RealtimeDispatcher
	Metrics          *metrics.Metrics
	Logger           *zap.Logger
	AllowedOrigins   []string
	FeedHeartbeat    time.Duration
}

// NewHTTPHandler builds the gin router serving the versioned API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Service == nil {
		return nil, errMissingService
	}
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.FeedHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultFeedHeartbeat
	}

	handler := &httpHandler{
		service:   deps.Service,
		previewer: configs.NewPreviewer(deps.Service.Registry(), deps.Service.Masker()),
		sessions:  deps.SessionValidator,
		realtime:  deps.Realtime,
		metrics:   deps.Metrics,
		logger:    logger,
		heartbeat: heartbeat,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(handler.assignRequestID)
	router.Use(handler.observeRequest)

	router.GET("/healthz", handler.handleHealth)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := router.Group(apiBasePath)
	api.Use(handler.authorizeRequest)

	api.GET("/configs/events", handler.handleEvents)
	api.GET("/configs/:category", handler.handleCurrent)
	api.POST("/configs/:category", handler.handleUpdate)
	api.GET("/configs/:category/history", handler.handleHistory)
	api.POST("/configs/:category/snapshots", handler.handleCreateSnapshot)
	api.POST("/configs/:category/preview", handler.handlePreview)
	api.POST("/configs/:category/apply", handler.handleApply)
	api.POST("/configs/:category/cleanup", handler.handleCleanup)
	api.POST("/configs/:category/rollback-stable", handler.handleRollbackStable)
	api.GET("/configs/:category/rollback", handler.handlePendingRollback)
	api.POST("/configs/:category/rollback", handler.handleConfirmRollback)
	api.DELETE("/configs/:category/rollback", handler.handleCancelRollback)

	api.POST("/rollbacks", handler.handleRollback)
	api.POST("/rollbacks/preview", handler.handlePrepareRollback)

	api.GET("/compare", handler.handleCompare)
	api.GET("/versions/:id", handler.handleGetVersion)
	api.DELETE("/versions/:id", handler.handleDeleteVersion)
	api.PUT("/versions/:id/stable", handler.handleSetStable)

	api.GET("/stats", handler.handleStats)
	api.GET("/export", handler.handleExport)
	api.GET("/audit", handler.handleAudit)

	return router, nil
}

type httpHandler struct {
	service   *configs.Service
	previewer configs.Previewer
	sessions  SessionValidator
	realtime  *RealtimeDispatcher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	heartbeat time.Duration
}

type errorPayload struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// corsMiddleware allows the configured origins. A "*" entry echoes any origin
// so that cookie sessions keep working with credentials enabled.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader, "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := make([]string, 0, len(allowedOrigins))
	wildcard := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "*" {
			wildcard = true
			continue
		}
		if trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if wildcard {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func (h *httpHandler) assignRequestID(c *gin.Context) {
	requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	c.Header(requestIDHeader, requestID)
	c.Next()
}

func (h *httpHandler) observeRequest(c *gin.Context) {
	started := time.Now()
	c.Next()
	elapsed := time.Since(started)
	status := c.Writer.Status()
	route := c.FullPath()
	h.metrics.ObserveRequest(c.Request.Method, route, status, elapsed)
	h.logger.Debug("http request",
		zap.String("method", c.Request.Method),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
		zap.String("request_id", c.GetString(requestIDContextKey)),
	)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "a valid session is required"})
		return
	}
	actor, err := configs.NewActor(claims.OperatorID(), claims.Email)
	if err != nil {
		h.logger.Warn("session carries no actor", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{Error: "unauthorized", Message: "a valid session is required"})
		return
	}
	c.Set(actorContextKey, actor)
	c.Next()
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func actorFromContext(c *gin.Context) configs.Actor {
	value, ok := c.Get(actorContextKey)
	if !ok {
		return configs.Actor{}
	}
	actor, _ := value.(configs.Actor)
	return actor
}

// respondError maps service errors onto status codes and the error envelope.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := configs.ErrorKind(err)
	payload := errorPayload{Error: kind, Message: err.Error()}
	var serviceErr *configs.ServiceError
	if errors.As(err, &serviceErr) {
		payload.Code = serviceErr.Code()
	}
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		if serviceErr == nil {
			h.logger.Error("request failed",
				zap.String("route", c.FullPath()),
				zap.String("request_id", c.GetString(requestIDContextKey)),
				zap.Error(err),
			)
		}
		payload.Message = "internal error"
	}
	c.AbortWithStatusJSON(status, payload)
}

func (h *httpHandler) respondInvalid(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorPayload{Error: "validation_error", Code: code, Message: message})
}

func statusForKind(kind string) int {
	switch kind {
	case "not_found":
		return http.StatusNotFound
	case "forbidden":
		return http.StatusForbidden
	case "category_mismatch", "same_version":
		return http.StatusUnprocessableEntity
	case "validation_error":
		return http.StatusBadRequest
	case "conflict":
		return http.StatusConflict
	case "no_change":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
