package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/piwi3910/vnfweave/internal/lcm"
	"github.com/piwi3910/vnfweave/internal/models"
	"github.com/piwi3910/vnfweave/internal/observability"
	"github.com/piwi3910/vnfweave/internal/store"
)

// setupRoutes configures all HTTP routes for the VNF Manager.
// It organizes routes into logical groups:
//   - Health and readiness endpoints
//   - Prometheus metrics endpoint
//   - VNF LCM API v1 endpoints
func (s *Server) setupRoutes() {
	// Health check endpoints (no authentication required)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/ready", s.handleReadiness)
	s.router.GET("/readyz", s.handleReadiness)
	s.router.GET("/live", gin.WrapF(observability.LivenessHandler()))

	// Metrics endpoint (if enabled)
	if s.config.Observability.Metrics.Enabled {
		s.router.GET(s.config.Observability.Metrics.Path, s.handleMetrics)
	}

	// VNF LCM API v1 routes
	// Base path: /vnflcm/v1
	v1 := s.router.Group("/vnflcm/v1")
	{
		// VNF instance management
		// Endpoint: /vnf_instances
		instances := v1.Group("/vnf_instances")
		{
			instances.GET("", s.handleListInstances)
			instances.POST("", s.handleCreateInstance)
			instances.GET("/:vnfInstanceId", s.handleGetInstance)
			instances.PATCH("/:vnfInstanceId", s.handleModifyInfo)
			instances.DELETE("/:vnfInstanceId", s.handleDeleteInstance)

			// Lifecycle operations on one instance
			instances.POST("/:vnfInstanceId/instantiate", s.handleInstantiate)
			instances.POST("/:vnfInstanceId/terminate", s.handleTerminate)
			instances.POST("/:vnfInstanceId/scale", s.handleScale)
			instances.POST("/:vnfInstanceId/heal", s.handleHeal)
			instances.POST("/:vnfInstanceId/change_ext_conn", s.handleChangeExtConn)
			instances.POST("/:vnfInstanceId/change_vnfpkg", s.handleChangeVnfPkg)
		}

		// Lifecycle operation occurrences
		// Endpoint: /vnf_lcm_op_occs
		opOccs := v1.Group("/vnf_lcm_op_occs")
		{
			opOccs.GET("", s.handleListOpOccs)
			opOccs.GET("/:vnfLcmOpOccId", s.handleGetOpOcc)
			opOccs.POST("/:vnfLcmOpOccId/retry", s.handleRetry)
			opOccs.POST("/:vnfLcmOpOccId/rollback", s.handleRollback)
			opOccs.POST("/:vnfLcmOpOccId/fail", s.handleFail)
			opOccs.POST("/:vnfLcmOpOccId/cancel", s.handleCancel)
		}

		// Lifecycle change notification subscriptions
		// Endpoint: /subscriptions
		subscriptions := v1.Group("/subscriptions")
		{
			subscriptions.GET("", s.handleListSubscriptions)
			subscriptions.POST("", s.handleCreateSubscription)
			subscriptions.GET("/:subscriptionId", s.handleGetSubscription)
			subscriptions.DELETE("/:subscriptionId", s.handleDeleteSubscription)
		}
	}

	// API information endpoint
	s.router.GET("/vnflcm", s.handleAPIInfo)
	s.router.GET("/", s.handleRoot)
}

// Health check handlers

// handleHealth returns the health status of the server.
// This endpoint is used by load balancers and monitoring systems.
func (s *Server) handleHealth(c *gin.Context) {
	health := s.healthCheck.CheckHealth(c.Request.Context())

	statusCode := http.StatusOK
	if health.Status == observability.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, health)
}

// handleReadiness returns the readiness status of the server.
// This endpoint checks if the server is ready to accept traffic.
func (s *Server) handleReadiness(c *gin.Context) {
	readiness := s.healthCheck.CheckReadiness(c.Request.Context())

	statusCode := http.StatusOK
	if !readiness.Ready {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, readiness)
}

// handleMetrics serves Prometheus metrics.
func (s *Server) handleMetrics(c *gin.Context) {
	handler := promhttp.Handler()
	handler.ServeHTTP(c.Writer, c.Request)
}

// API information handlers

// handleRoot returns basic API information.
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "VNF Manager",
		"version":     "1.0.0",
		"description": "ETSI SOL003-style VNF lifecycle manager",
		"api_version": "v1",
		"endpoints": gin.H{
			"health":   "/health",
			"ready":    "/ready",
			"metrics":  s.config.Observability.Metrics.Path,
			"api_base": "/vnflcm/v1",
		},
	})
}

// handleAPIInfo returns VNF LCM API information.
func (s *Server) handleAPIInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"api_version": "v1",
		"base_path":   "/vnflcm/v1",
		"resources": []string{
			"vnf_instances",
			"vnf_lcm_op_occs",
			"subscriptions",
		},
	})
}

// problem writes an RFC 7807 problem response.
func problem(c *gin.Context, status int, title, detail string) {
	c.Header("Content-Type", "application/problem+json")
	c.JSON(status, models.ProblemDetails{
		Status: status,
		Title:  title,
		Detail: detail,
	})
}

// writeError maps domain errors onto HTTP problem responses.
func (s *Server) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		problem(c, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, store.ErrConflict):
		problem(c, http.StatusConflict, "Operation In Progress", err.Error())
	case errors.Is(err, store.ErrInvalidState):
		problem(c, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		problem(c, http.StatusConflict, "Already Exists", err.Error())
	case errors.Is(err, lcm.ErrValidation):
		problem(c, http.StatusBadRequest, "Validation Error", err.Error())
	case errors.Is(err, store.ErrStorageUnavailable):
		problem(c, http.StatusServiceUnavailable, "Storage Unavailable", err.Error())
	default:
		problem(c, http.StatusInternalServerError, "Internal Error", err.Error())
	}
}
