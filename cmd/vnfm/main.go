// Package main is the entry point for the VNF Manager.
// It starts the VNF lifecycle management service: an HTTP API that drives
// VNF instantiation, scaling, healing and termination against one or more
// VIMs through pluggable infra drivers.
//
// The application performs the following initialization sequence:
//  1. Load configuration from config file and environment variables
//  2. Initialize structured logging with zap
//  3. Connect to Redis for instance and occurrence storage
//  4. Load VNF descriptors from the descriptor directory
//  5. Construct the infra drivers declared in the VIM configuration
//  6. Start the notification dispatcher and delivery workers
//  7. Recover operations left in flight by a previous process
//  8. Start the HTTP server with graceful shutdown support
//
// Graceful shutdown is triggered by SIGINT (Ctrl+C) or SIGTERM signals.
//
// Example usage:
//
//	# Start with default config
//	./vnfm
//
//	# Start with custom config file
//	./vnfm --config=/etc/vnfweave/config.yaml
//
//	# Start with environment variable overrides
//	export VNFWEAVE_SERVER_PORT=9090
//	export VNFWEAVE_REDIS_ADDRESSES=redis.example.com:6379
//	./vnfm
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/piwi3910/vnfweave/internal/config"
	"github.com/piwi3910/vnfweave/internal/descriptor"
	"github.com/piwi3910/vnfweave/internal/driver"
	"github.com/piwi3910/vnfweave/internal/driver/helm"
	"github.com/piwi3910/vnfweave/internal/driver/mock"
	"github.com/piwi3910/vnfweave/internal/driver/openstack"
	"github.com/piwi3910/vnfweave/internal/lcm"
	"github.com/piwi3910/vnfweave/internal/notify"
	"github.com/piwi3910/vnfweave/internal/observability"
	"github.com/piwi3910/vnfweave/internal/server"
	"github.com/piwi3910/vnfweave/internal/store"
)

const (
	// Version is the application version (set via build flags).
	Version = "1.0.0"

	// ServiceName is the name of this service.
	ServiceName = "vnfweave-vnfm"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", ServiceName, Version)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the main application logic.
func run() error {
	cfg, err := loadConfiguration(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.InitLogger(cfg.Observability.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("VNF Manager starting",
		zap.String("version", Version),
		zap.String("service", ServiceName),
	)

	components, err := initializeComponents(cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer components.Close(logger.Logger)

	return components.server.Start()
}

// applicationComponents holds all initialized application components.
type applicationComponents struct {
	store    *store.RedisStore
	drivers  *driver.Registry
	manager  *lcm.Manager
	worker   *notify.Worker
	stopWork context.CancelFunc
	server   *server.Server
}

// Close shuts down all components in reverse dependency order. The server
// is stopped by its own signal handling before this runs.
func (c *applicationComponents) Close(logger *zap.Logger) {
	if c.manager != nil {
		c.manager.Stop()
	}
	if c.stopWork != nil {
		c.stopWork()
	}
	if c.worker != nil {
		if err := c.worker.Stop(); err != nil {
			logger.Warn("failed to stop notification worker", zap.Error(err))
		}
	}
	if c.drivers != nil {
		if err := c.drivers.Close(); err != nil {
			logger.Warn("failed to close infra drivers", zap.Error(err))
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			logger.Warn("failed to close Redis connection", zap.Error(err))
		}
	}
}

// loadConfiguration loads and validates the application configuration.
func loadConfiguration(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initializeComponents wires the store, descriptors, drivers, notification
// pipeline, lifecycle manager and HTTP server.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (*applicationComponents, error) {
	st, err := initializeStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	components := &applicationComponents{store: st}

	descriptors, err := initializeDescriptors(cfg, logger)
	if err != nil {
		components.Close(logger)
		return nil, fmt.Errorf("failed to load descriptors: %w", err)
	}

	drivers, err := initializeDrivers(cfg, logger)
	if err != nil {
		components.Close(logger)
		return nil, fmt.Errorf("failed to initialize infra drivers: %w", err)
	}
	components.drivers = drivers

	subscriptions := notify.NewRedisSubscriptionStore(st.Client())

	var notifier lcm.Notifier
	if cfg.Notifications.Enabled {
		notifier = notify.NewDispatcher(subscriptions, st.Client(), logger)

		worker, workErr := startNotificationWorker(cfg, st, logger, components)
		if workErr != nil {
			components.Close(logger)
			return nil, workErr
		}
		components.worker = worker
	}

	manager := lcm.NewManager(st, descriptors, drivers, notifier, logger, lcm.Config{
		OperationTimeout: cfg.LCM.OperationTimeout,
	})
	components.manager = manager

	if cfg.LCM.RecoverOnStart {
		recoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = manager.RecoverPending(recoverCtx)
		cancel()
		if err != nil {
			components.Close(logger)
			return nil, fmt.Errorf("failed to recover pending operations: %w", err)
		}
	}

	healthChecker := initializeHealthChecker(st, drivers, logger)

	components.server = server.New(cfg, logger, manager, subscriptions, healthChecker)
	logger.Info("HTTP server created",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("mode", cfg.Server.GinMode),
		zap.Bool("tls_enabled", cfg.TLS.Enabled),
	)

	return components, nil
}

// initializeStore creates the Redis store and verifies connectivity.
func initializeStore(cfg *config.Config, logger *zap.Logger) (*store.RedisStore, error) {
	redisCfg := &store.RedisConfig{
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	}

	switch cfg.Redis.Mode {
	case "sentinel":
		redisCfg.UseSentinel = true
		redisCfg.SentinelAddrs = cfg.Redis.Addresses
		redisCfg.MasterName = cfg.Redis.MasterName
		logger.Info("configuring Redis in Sentinel mode",
			zap.Strings("sentinel_addresses", cfg.Redis.Addresses),
			zap.String("master_name", cfg.Redis.MasterName),
		)

	case "cluster":
		logger.Warn("Redis cluster mode not yet fully supported, falling back to standalone")
		fallthrough

	case "standalone":
		if len(cfg.Redis.Addresses) > 0 {
			redisCfg.Addr = cfg.Redis.Addresses[0]
		} else {
			redisCfg.Addr = "localhost:6379"
		}
		logger.Info("configuring Redis in standalone mode",
			zap.String("address", redisCfg.Addr),
		)

	default:
		return nil, fmt.Errorf("unsupported Redis mode: %s", cfg.Redis.Mode)
	}

	st := store.NewRedisStore(redisCfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := st.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis connectivity check failed: %w", err)
	}

	logger.Info("Redis connectivity verified")
	return st, nil
}

// initializeDescriptors loads VNF descriptors from the configured directory.
// A missing directory is tolerated so the service can start before any VNF
// package has been onboarded.
func initializeDescriptors(cfg *config.Config, logger *zap.Logger) (*descriptor.StaticProvider, error) {
	provider := descriptor.NewStaticProvider()

	dir := cfg.Descriptors.Dir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Warn("descriptor directory does not exist, starting with no descriptors",
			zap.String("dir", dir))
		return provider, nil
	}

	if err := provider.LoadDir(dir); err != nil {
		return nil, err
	}

	logger.Info("VNF descriptors loaded", zap.String("dir", dir))
	return provider, nil
}

// initializeDrivers constructs one infra driver per configured VIM.
func initializeDrivers(cfg *config.Config, logger *zap.Logger) (*driver.Registry, error) {
	registry := driver.NewRegistry(logger)
	defaultVim := cfg.DefaultVim()

	for i := range cfg.Vims {
		vim := &cfg.Vims[i]

		drv, err := buildDriver(vim, logger)
		if err != nil {
			return nil, fmt.Errorf("vim %s: %w", vim.Name, err)
		}

		isDefault := defaultVim != nil && vim.Name == defaultVim.Name
		if err := registry.Register(drv, isDefault); err != nil {
			return nil, fmt.Errorf("vim %s: %w", vim.Name, err)
		}
	}

	if len(cfg.Vims) == 0 {
		logger.Warn("no VIMs configured, registering mock driver")
		if err := registry.Register(mock.New(), true); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// buildDriver constructs the driver for one VIM configuration entry.
func buildDriver(vim *config.VimConfig, logger *zap.Logger) (driver.Driver, error) {
	switch vim.Kind {
	case config.VimKindMock:
		return mock.New(), nil

	case config.VimKindOpenStack:
		return openstack.New(&openstack.Config{
			AuthURL:      vim.OpenStack.AuthURL,
			Username:     vim.OpenStack.Username,
			Password:     vim.OpenStack.Password,
			ProjectName:  vim.OpenStack.ProjectName,
			DomainName:   vim.OpenStack.DomainName,
			Region:       vim.OpenStack.Region,
			PollInterval: vim.OpenStack.PollInterval,
			WaitTimeout:  vim.OpenStack.WaitTimeout,
			Logger:       logger,
		})

	case config.VimKindHelm:
		return helm.New(&helm.Config{
			Kubeconfig: vim.Helm.Kubeconfig,
			Namespace:  vim.Helm.Namespace,
			ChartRef:   vim.Helm.ChartRef,
			Timeout:    vim.Helm.Timeout,
			MaxHistory: vim.Helm.MaxHistory,
			Logger:     logger,
		})

	default:
		return nil, fmt.Errorf("unsupported VIM kind: %s", vim.Kind)
	}
}

// startNotificationWorker starts the callback delivery workers.
func startNotificationWorker(cfg *config.Config, st *store.RedisStore, logger *zap.Logger, components *applicationComponents) (*notify.Worker, error) {
	worker, err := notify.NewWorker(&notify.WorkerConfig{
		RedisClient:  st.Client(),
		Logger:       logger,
		WorkerCount:  cfg.Notifications.WorkerCount,
		Timeout:      cfg.Notifications.Timeout,
		MaxRetries:   cfg.Notifications.MaxRetries,
		RetryBackoff: cfg.Notifications.RetryBackoff,
		MaxBackoff:   cfg.Notifications.MaxBackoff,
		HMACSecret:   cfg.Notifications.HMACSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create notification worker: %w", err)
	}

	workCtx, stopWork := context.WithCancel(context.Background())
	components.stopWork = stopWork

	go func() {
		if err := worker.Start(workCtx); err != nil {
			logger.Error("notification worker failed", zap.Error(err))
		}
	}()

	logger.Info("notification workers started",
		zap.Int("worker_count", cfg.Notifications.WorkerCount))

	return worker, nil
}

// initializeHealthChecker registers store and driver health checks.
func initializeHealthChecker(st *store.RedisStore, drivers *driver.Registry, logger *zap.Logger) *observability.HealthChecker {
	healthChecker := observability.NewHealthChecker(Version)
	healthChecker.SetTimeout(5 * time.Second)

	storeCheck := observability.StoreHealthCheck(st.Ping)
	healthChecker.RegisterHealthCheck("store", storeCheck)
	healthChecker.RegisterReadinessCheck("store", storeCheck)

	for _, name := range drivers.Names() {
		drv, err := drivers.Get(name)
		if err != nil {
			continue
		}
		check := observability.DriverHealthCheck(name, drv.Health)
		healthChecker.RegisterHealthCheck("driver_"+name, check)
		healthChecker.RegisterReadinessCheck("driver_"+name, check)
	}

	logger.Info("health checks registered",
		zap.Int("drivers", len(drivers.Names())))

	return healthChecker
}
