package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mbellido/agentpay/internal/application/orchestrator"
	"github.com/mbellido/agentpay/internal/application/workers"
	"github.com/mbellido/agentpay/pkg/ports"
)

// Server represents the HTTP API server
type Server struct {
	router  *gin.Engine
	server  *http.Server
	manager *orchestrator.Manager
	ledger  ports.Ledger
	pool    *workers.Pool
	logger  *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port    int
	Manager *orchestrator.Manager
	Ledger  ports.Ledger
	Pool    *workers.Pool
	Logger  *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:  router,
		manager: cfg.Manager,
		ledger:  cfg.Ledger,
		pool:    cfg.Pool,
		logger:  cfg.Logger,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/roles", s.handleListRoles)

		// Run endpoints
		api.POST("/runs", s.handleSubmitRun)
		api.GET("/runs/:id", s.handleGetRun)
		api.POST("/runs/:id/cancel", s.handleCancelRun)

		// Ledger read model
		api.GET("/tasks/:id", s.handleGetTask)
	}
}

// SetupWebSocket adds the run event stream handler to the router
func (s *Server) SetupWebSocket(handler interface {
	HandleRunStream(*gin.Context)
}) {
	s.router.GET("/api/runs/:id/ws", handler.HandleRunStream)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
