package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
	"github.com/MarcoPoloResearchLab/margin/backend/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "margin_user_id"

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errMissingAnnotations      = errors.New("annotations service dependency required")
)

// SessionValidator authenticates a request from its bearer token or session cookie.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// UserResolver maps session claims onto a canonical user id.
type UserResolver interface {
	ResolveCanonicalUserID(ctx context.Context, claims auth.SessionClaims) (string, error)
}

type Dependencies struct {
	SessionValidator   SessionValidator
	UserResolver       UserResolver
	AnnotationsService *annotations.Service
	Realtime           *RealtimeDispatcher
	MetricsHandler     http.Handler
	AllowedOrigins     []string
	HeartbeatInterval  time.Duration
	Logger             *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.UserResolver == nil {
		return nil, errMissingUserResolver
	}
	if deps.AnnotationsService == nil {
		return nil, errMissingAnnotations
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(accessLogMiddleware(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:           deps.SessionValidator,
		users:              deps.UserResolver,
		annotationsService: deps.AnnotationsService,
		realtime:           realtime,
		heartbeatInterval:  heartbeat,
		logger:             logger,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	public := router.Group("/annotations")
	public.GET("/paper/:paperId", handler.handlePaperAnnotations)
	public.GET("/paper/:paperId/stream", handler.handlePaperStream)
	public.GET("/:id", handler.handleGetAnnotation)
	public.GET("/:id/versions", handler.handleVersions)

	protected := router.Group("/annotations")
	protected.Use(handler.authorizeRequest)
	protected.POST("", handler.handleCreateAnnotation)
	protected.GET("/user", handler.handleUserAnnotations)
	protected.PUT("/:id", handler.handleUpdateAnnotation)
	protected.DELETE("/:id", handler.handleDeleteAnnotation)
	protected.POST("/:id/reply", handler.handleCreateReply)

	return router, nil
}

type httpHandler struct {
	sessions           SessionValidator
	users              UserResolver
	annotationsService *annotations.Service
	realtime           *RealtimeDispatcher
	heartbeatInterval  time.Duration
	logger             *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) || errors.Is(err, auth.ErrMissingSessionToken) {
			h.logger.Info("session validation failed", zap.Error(err))
		} else {
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		respondFailure(c, http.StatusUnauthorized, messageUnauthorized, codeUnauthorized, nil)
		return
	}
	userID, err := h.users.ResolveCanonicalUserID(c.Request.Context(), claims)
	if err != nil {
		h.logger.Warn("user resolution failed", zap.String("subject", claims.Subject), zap.Error(err))
		respondFailure(c, http.StatusUnauthorized, messageUnauthorized, codeUnauthorized, nil)
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// requireUserID reads the authenticated user id placed by authorizeRequest.
func requireUserID(c *gin.Context) (annotations.UserID, bool) {
	userID, err := annotations.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		respondFailure(c, http.StatusUnauthorized, messageUnauthorized, codeUnauthorized, nil)
		return "", false
	}
	return userID, true
}
