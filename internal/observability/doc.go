// Package observability provides observability tools for the VNF Manager.
// It includes structured logging with zap, Prometheus metrics, and
// health/readiness checks.
//
// # Logging
//
// Initialize the logger once at application startup:
//
//	logger, err := observability.InitLogger(cfg.Observability.Logging)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Use structured logging throughout the application:
//
//	logger.Info("operation accepted",
//	    zap.String("op_occ_id", occID),
//	    zap.String("operation", "INSTANTIATE"),
//	)
//
// # Metrics
//
// Initialize metrics once at application startup:
//
//	metrics := observability.InitMetrics("vnfm")
//
// Record HTTP request metrics:
//
//	metrics.RecordHTTPRequest("POST", "/vnflcm/v1/vnf_instances", 201, duration, responseSize)
//
// Record driver operations:
//
//	start := time.Now()
//	result, err := drv.Apply(ctx, vnfID, desired, params)
//	metrics.RecordDriverOperation("openstack", "apply", time.Since(start), err)
//
// # Health Checks
//
// Create a health checker with registered checks:
//
//	healthChecker := observability.NewHealthChecker("v1.0.0")
//
//	healthChecker.RegisterReadinessCheck("redis", observability.StoreHealthCheck(func(ctx context.Context) error {
//	    return redisClient.Ping(ctx).Err()
//	}))
//
//	healthChecker.RegisterHealthCheck("vim-openstack", observability.DriverHealthCheck("openstack", drv.Health))
//
// Run a sweep, or expose process liveness directly:
//
//	report := healthChecker.CheckHealth(ctx)
//	http.HandleFunc("/live", observability.LivenessHandler())
package observability
