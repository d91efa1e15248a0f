// Package api exposes the monitoring service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mailsentinel/mailsentinel/internal/adapters/mime"
	"github.com/mailsentinel/mailsentinel/internal/adapters/push"
	"github.com/mailsentinel/mailsentinel/internal/core"
	"github.com/mailsentinel/mailsentinel/internal/metrics"
)

// Server is the HTTP surface of the monitoring service.
type Server struct {
	engine   *gin.Engine
	service  *core.MonitorService
	repo     core.Repository
	provider core.MailboxProvider
	hub      *push.Hub
	importer *mime.Importer
	logger   *zap.Logger
	addr     string
	http     *http.Server
}

// NewServer builds the HTTP server and registers all routes.
func NewServer(
	service *core.MonitorService,
	repo core.Repository,
	provider core.MailboxProvider,
	hub *push.Hub,
	importer *mime.Importer,
	logger *zap.Logger,
	addr string,
	allowedOrigins []string,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:   engine,
		service:  service,
		repo:     repo,
		provider: provider,
		hub:      hub,
		importer: importer,
		logger:   logger,
		addr:     addr,
	}

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = allowedOrigins
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization")
	engine.Use(cors.New(corsConfig))
	engine.Use(s.instrument())

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.engine.GET("/api/ws", s.hub.Serve)

	api := s.engine.Group("/api")
	{
		api.GET("/dashboard/metrics", s.handleDashboardMetrics)

		api.GET("/emails", s.handleListEmails)
		api.GET("/emails/recent", s.handleRecentEmails)
		api.POST("/emails/sync", s.handleSyncEmails)
		api.POST("/emails/scan-content", s.handleScanContent)
		api.POST("/emails/import", s.handleImportEmail)

		api.GET("/threats/active", s.handleActiveThreats)
		api.POST("/threats/:id/resolve", s.handleResolveThreat)

		api.GET("/policies", s.handleListPolicies)
		api.POST("/policies", s.handleCreatePolicy)
		api.PUT("/policies/:id", s.handleUpdatePolicy)
		api.DELETE("/policies/:id", s.handleDeletePolicy)
		api.POST("/policies/:id/test", s.handleTestPolicy)

		api.GET("/policies/recommendations", s.handleListRecommendations)
		api.POST("/policies/recommendations/:id/review", s.handleReviewRecommendation)
		api.POST("/policies/generate-recommendations", s.handleGenerateRecommendations)

		api.GET("/auth/graph/url", s.handleAuthURL)
		api.POST("/auth/graph/callback", s.handleAuthCallback)
	}
}

// instrument records per-request counters using the route template so
// path parameters do not explode the label space.
func (s *Server) instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Engine exposes the router for handler tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// respondError maps core sentinel errors onto HTTP statuses with a JSON
// error body.
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidRule):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrAlreadyReviewed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
