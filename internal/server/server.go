// Package server provides the HTTP surface of the VNF Manager.
// It includes Gin-based routing for the VNF lifecycle management API,
// middleware setup, and graceful shutdown handling.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfweave/internal/config"
	"github.com/piwi3910/vnfweave/internal/lcm"
	"github.com/piwi3910/vnfweave/internal/notify"
	"github.com/piwi3910/vnfweave/internal/observability"
)

// Server represents the HTTP server for the VNF Manager.
// It encapsulates the Gin router, configuration, logger, and server state.
//
// The server provides:
//   - VNF LCM API endpoints (/vnflcm/v1/*)
//   - Health check endpoints (/health, /ready, /live)
//   - Prometheus metrics endpoint (/metrics)
//   - Request logging and recovery middleware
//   - Graceful shutdown support
type Server struct {
	config        *config.Config
	logger        *zap.Logger
	router        *gin.Engine
	httpServer    *http.Server
	metrics       *observability.Metrics
	manager       *lcm.Manager
	subscriptions notify.SubscriptionStore
	healthCheck   *observability.HealthChecker

	shutdownOnce sync.Once
}

// New creates a new Server instance wired to the lifecycle manager and
// the subscription store. It initializes the Gin router, sets up
// middleware, and configures routes.
//
// The function will panic if essential dependencies are missing.
func New(cfg *config.Config, logger *zap.Logger, mgr *lcm.Manager, subs notify.SubscriptionStore, healthCheck *observability.HealthChecker) *Server {
	if cfg == nil {
		panic("config cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	if mgr == nil {
		panic("lifecycle manager cannot be nil")
	}
	if subs == nil {
		panic("subscription store cannot be nil")
	}

	gin.SetMode(cfg.Server.GinMode)

	router := gin.New()

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.InitMetrics("vnfm")
	}

	if healthCheck == nil {
		healthCheck = observability.NewHealthChecker("1.0.0")
	}

	srv := &Server{
		config:        cfg,
		logger:        logger,
		router:        router,
		metrics:       metrics,
		manager:       mgr,
		subscriptions: subs,
		healthCheck:   healthCheck,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv
}

// setupMiddleware configures middleware for the Gin router.
// Middleware is executed in the order they are added.
func (s *Server) setupMiddleware() {
	// Recovery middleware - must be first to catch panics
	s.router.Use(s.recoveryMiddleware())

	// Security headers on every response
	s.router.Use(s.securityHeadersMiddleware())

	// Request logging middleware
	s.router.Use(s.loggingMiddleware())

	// Metrics middleware (if enabled)
	if s.metrics != nil {
		s.router.Use(s.metricsMiddleware())
	}
}

// Start starts the HTTP server and blocks until the server is shut down.
// It supports graceful shutdown on SIGINT and SIGTERM signals.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		IdleTimeout:    s.config.Server.IdleTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting HTTP server",
			zap.String("address", addr),
			zap.String("mode", s.config.Server.GinMode),
		)

		var err error
		if s.config.TLS.Enabled {
			s.logger.Info("TLS enabled",
				zap.String("cert_file", s.config.TLS.CertFile),
				zap.String("min_version", s.config.TLS.MinVersion),
			)
			err = s.httpServer.ListenAndServeTLS(
				s.config.TLS.CertFile,
				s.config.TLS.KeyFile,
			)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		s.logger.Info("shutdown signal received",
			zap.String("signal", sig.String()),
		)
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the HTTP server.
// It waits for active requests to complete or until the shutdown timeout
// expires. This method is safe to call multiple times - only the first
// call will execute.
func (s *Server) Shutdown() error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info("initiating graceful shutdown",
			zap.Duration("timeout", s.config.Server.ShutdownTimeout),
		)

		ctx, cancel := context.WithTimeout(
			context.Background(),
			s.config.Server.ShutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("error during shutdown", zap.Error(err))
			shutdownErr = fmt.Errorf("server shutdown failed: %w", err)
			return
		}

		s.logger.Info("server shutdown complete")
	})

	return shutdownErr
}

// Router returns the underlying Gin router.
// This is useful for testing and adding custom routes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// recoveryMiddleware recovers from panics and logs the error.
func (s *Server) recoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}

// loggingMiddleware logs HTTP requests and responses.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		s.logger.Info("HTTP request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", latency),
			zap.Int("body_size", c.Writer.Size()),
		)

		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				s.logger.Error("request error", zap.Error(e.Err))
			}
		}
	}
}

// metricsMiddleware collects Prometheus metrics for HTTP requests.
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		s.metrics.HTTPInFlightInc()
		defer s.metrics.HTTPInFlightDec()

		c.Next()

		s.metrics.RecordHTTPRequest(
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start),
			c.Writer.Size(),
		)
	}
}
