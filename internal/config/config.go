// Package config provides configuration management for the VNF Manager.
// It loads configuration from YAML files and environment variables using
// Viper, with validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TLS client authentication modes.
const (
	tlsClientAuthNone             = "none"
	tlsClientAuthRequest          = "request"
	tlsClientAuthRequire          = "require"
	tlsClientAuthVerify           = "verify"
	tlsClientAuthRequireAndVerify = "require-and-verify"
)

// VIM driver kinds.
const (
	VimKindMock      = "mock"
	VimKindOpenStack = "openstack"
	VimKindHelm      = "helm"
)

// Config represents the complete configuration for the VNF Manager.
//
// Configuration can be loaded from:
//   - YAML file (config/config.yaml)
//   - Environment variables (prefixed with VNFWEAVE_)
//
// Example:
//
//	cfg, err := config.Load("config/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	TLS           TLSConfig           `mapstructure:"tls"`
	Descriptors   DescriptorsConfig   `mapstructure:"descriptors"`
	Vims          []VimConfig         `mapstructure:"vims"`
	LCM           LCMConfig           `mapstructure:"lcm"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the network interface to bind to (e.g., "0.0.0.0", "localhost")
	Host string `mapstructure:"host"`

	// Port is the HTTP server port (default: 8080)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request when keep-alives are enabled
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes is the maximum size of request headers
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// GinMode sets the Gin framework mode ("debug", "release", "test")
	GinMode string `mapstructure:"gin_mode"`
}

// RedisConfig contains Redis client and cluster configuration.
type RedisConfig struct {
	// Mode specifies Redis deployment mode: "standalone", "sentinel", "cluster"
	Mode string `mapstructure:"mode"`

	// Addresses contains Redis server addresses
	// For standalone: ["localhost:6379"]
	// For sentinel: ["sentinel1:26379", "sentinel2:26379"]
	// For cluster: ["node1:6379", "node2:6379", ...]
	Addresses []string `mapstructure:"addresses"`

	// MasterName is required for Sentinel mode (e.g., "mymaster")
	MasterName string `mapstructure:"master_name"`

	// Password for Redis authentication (optional)
	Password string `mapstructure:"password"`

	// DB is the Redis database number (0-15, only for standalone/sentinel)
	DB int `mapstructure:"db"`

	// PoolSize is the maximum number of socket connections
	PoolSize int `mapstructure:"pool_size"`

	// MinIdleConns is the minimum number of idle connections
	MinIdleConns int `mapstructure:"min_idle_conns"`

	// MaxRetries is the maximum number of retries before giving up
	MaxRetries int `mapstructure:"max_retries"`

	// DialTimeout is the timeout for establishing new connections
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// ReadTimeout is the timeout for socket reads
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the timeout for socket writes
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// PoolTimeout is the timeout when all connections are busy
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`

	// EnableTLS enables TLS for Redis connections
	EnableTLS bool `mapstructure:"enable_tls"`

	// TLSInsecureSkipVerify skips TLS certificate verification (use only for testing)
	TLSInsecureSkipVerify bool `mapstructure:"tls_insecure_skip_verify"`
}

// TLSConfig contains TLS/mTLS configuration for the HTTP server.
type TLSConfig struct {
	// Enabled enables TLS for the HTTP server
	Enabled bool `mapstructure:"enabled"`

	// CertFile is the path to the TLS certificate file
	CertFile string `mapstructure:"cert_file"`

	// KeyFile is the path to the TLS private key file
	KeyFile string `mapstructure:"key_file"`

	// CAFile is the path to the CA certificate file for client verification
	CAFile string `mapstructure:"ca_file"`

	// ClientAuth specifies the client authentication mode
	// Options: "none", "request", "require", "verify", "require-and-verify"
	ClientAuth string `mapstructure:"client_auth"`

	// MinVersion is the minimum TLS version ("1.2", "1.3")
	MinVersion string `mapstructure:"min_version"`
}

// DescriptorsConfig locates the VNF descriptor catalog.
type DescriptorsConfig struct {
	// Dir is a directory of descriptor YAML/JSON files loaded at startup.
	Dir string `mapstructure:"dir"`
}

// VimConfig describes one virtualized infrastructure manager endpoint and
// the driver used to reach it.
type VimConfig struct {
	// Name is the VIM connection id referenced by VNF instances.
	Name string `mapstructure:"name"`

	// Kind selects the driver: "mock", "openstack", or "helm".
	Kind string `mapstructure:"kind"`

	// Default marks the VIM used when an instantiation request names none.
	Default bool `mapstructure:"default"`

	OpenStack OpenStackVimConfig `mapstructure:"openstack"`
	Helm      HelmVimConfig      `mapstructure:"helm"`
}

// OpenStackVimConfig contains Keystone and Heat settings for an OpenStack VIM.
type OpenStackVimConfig struct {
	AuthURL     string `mapstructure:"auth_url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ProjectName string `mapstructure:"project_name"`
	DomainName  string `mapstructure:"domain_name"`
	Region      string `mapstructure:"region"`

	// PollInterval is the stack status poll interval.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// WaitTimeout bounds how long a stack action may take.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// HelmVimConfig contains Kubernetes and chart settings for a Helm VIM.
type HelmVimConfig struct {
	// Kubeconfig is the path to a kubeconfig file. Leave empty to use
	// in-cluster config when running in a pod.
	Kubeconfig string `mapstructure:"kubeconfig"`

	// Namespace is the namespace releases are installed into.
	Namespace string `mapstructure:"namespace"`

	// ChartRef is the default chart reference for VNF releases.
	ChartRef string `mapstructure:"chart_ref"`

	// Timeout bounds each Helm action.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxHistory limits retained release revisions.
	MaxHistory int `mapstructure:"max_history"`
}

// LCMConfig contains lifecycle manager settings.
type LCMConfig struct {
	// OperationTimeout bounds a single infrastructure apply or rollback.
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`

	// RecoverOnStart sweeps non-terminal occurrences into FAILED_TEMP at
	// startup so operators can resolve operations interrupted by a crash.
	RecoverOnStart bool `mapstructure:"recover_on_start"`
}

// NotificationsConfig contains lifecycle notification delivery settings.
type NotificationsConfig struct {
	// Enabled starts the delivery workers.
	Enabled bool `mapstructure:"enabled"`

	// WorkerCount is the number of delivery worker goroutines.
	WorkerCount int `mapstructure:"worker_count"`

	// Timeout is the HTTP client timeout for callback POSTs.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxRetries is the maximum number of delivery retry attempts.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryBackoff is the base backoff duration for retries.
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration `mapstructure:"max_backoff"`

	// HMACSecret signs delivery payloads when non-empty.
	HMACSecret string `mapstructure:"hmac_secret"`
}

// ObservabilityConfig contains logging and metrics configuration.
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level sets the log level ("debug", "info", "warn", "error", "fatal")
	Level string `mapstructure:"level"`

	// Format sets the log format ("json", "console")
	Format string `mapstructure:"format"`

	// OutputPaths is a list of output destinations (e.g., ["stdout", "/var/log/app.log"])
	OutputPaths []string `mapstructure:"output_paths"`

	// ErrorOutputPaths is a list of error output destinations
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`

	// EnableCaller adds caller information to log entries
	EnableCaller bool `mapstructure:"enable_caller"`

	// EnableStacktrace adds stacktrace on errors
	EnableStacktrace bool `mapstructure:"enable_stacktrace"`

	// Development enables development mode (more verbose, console format)
	Development bool `mapstructure:"development"`
}

// MetricsConfig contains Prometheus metrics configuration.
type MetricsConfig struct {
	// Enabled enables the Prometheus metrics endpoint
	Enabled bool `mapstructure:"enabled"`

	// Path is the HTTP path for the metrics endpoint (default: "/metrics")
	Path string `mapstructure:"path"`
}

// Load loads configuration from the specified file path and environment
// variables. Environment variables override file values and should be
// prefixed with VNFWEAVE_ (e.g., VNFWEAVE_SERVER_PORT=8080).
//
// Returns an error if the configuration file cannot be read or parsed.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default configuration file locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vnfweave")
	}

	v.SetEnvPrefix("VNFWEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional if all values come from env vars
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_header_bytes", 1048576) // 1MB
	v.SetDefault("server.gin_mode", "release")

	// Redis defaults
	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 5)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_timeout", "4s")
	v.SetDefault("redis.enable_tls", false)
	v.SetDefault("redis.tls_insecure_skip_verify", false)

	// TLS defaults
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.client_auth", "none")
	v.SetDefault("tls.min_version", "1.3")

	// Descriptor defaults
	v.SetDefault("descriptors.dir", "./descriptors")

	// LCM defaults
	v.SetDefault("lcm.operation_timeout", "30m")
	v.SetDefault("lcm.recover_on_start", true)

	// Notification defaults
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.worker_count", 10)
	v.SetDefault("notifications.timeout", "10s")
	v.SetDefault("notifications.max_retries", 3)
	v.SetDefault("notifications.retry_backoff", "1s")
	v.SetDefault("notifications.max_backoff", "5m")

	// Logging defaults
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.output_paths", []string{"stdout"})
	v.SetDefault("observability.logging.error_output_paths", []string{"stderr"})
	v.SetDefault("observability.logging.enable_caller", true)
	v.SetDefault("observability.logging.enable_stacktrace", false)
	v.SetDefault("observability.logging.development", false)

	// Metrics defaults
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")
}

// Validate validates the configuration and returns an error if any values
// are invalid. This should be called after Load().
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateRedis(); err != nil {
		return err
	}

	if err := c.validateTLS(); err != nil {
		return err
	}

	if err := c.validateVims(); err != nil {
		return err
	}

	if err := c.validateLCM(); err != nil {
		return err
	}

	if err := c.validateNotifications(); err != nil {
		return err
	}

	if err := c.validateObservability(); err != nil {
		return err
	}

	return nil
}

// validateServer validates the server configuration.
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	if c.Server.GinMode != "debug" && c.Server.GinMode != "release" && c.Server.GinMode != "test" {
		return fmt.Errorf("invalid gin_mode: %s (must be debug, release, or test)", c.Server.GinMode)
	}

	return nil
}

// validateRedis validates the Redis configuration.
func (c *Config) validateRedis() error {
	if c.Redis.Mode != "standalone" && c.Redis.Mode != "sentinel" && c.Redis.Mode != "cluster" {
		return fmt.Errorf("invalid redis mode: %s (must be standalone, sentinel, or cluster)", c.Redis.Mode)
	}

	if len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("redis addresses cannot be empty")
	}

	if c.Redis.Mode == "sentinel" && c.Redis.MasterName == "" {
		return fmt.Errorf("redis master_name is required for sentinel mode")
	}

	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		return fmt.Errorf("invalid redis db: %d (must be 0-15)", c.Redis.DB)
	}

	return nil
}

// validateTLS validates the TLS configuration.
func (c *Config) validateTLS() error {
	if !c.TLS.Enabled {
		return nil
	}

	if err := c.validateTLSFiles(); err != nil {
		return err
	}

	if err := c.validateTLSClientAuth(); err != nil {
		return err
	}

	if c.TLS.MinVersion != "1.2" && c.TLS.MinVersion != "1.3" {
		return fmt.Errorf("invalid tls min_version: %s (must be 1.2 or 1.3)", c.TLS.MinVersion)
	}

	return nil
}

// validateTLSFiles validates TLS certificate and key files.
func (c *Config) validateTLSFiles() error {
	if c.TLS.CertFile == "" {
		return fmt.Errorf("tls cert_file is required when TLS is enabled")
	}

	if c.TLS.KeyFile == "" {
		return fmt.Errorf("tls key_file is required when TLS is enabled")
	}

	if _, err := os.Stat(c.TLS.CertFile); os.IsNotExist(err) {
		return fmt.Errorf("tls cert_file does not exist: %s", c.TLS.CertFile)
	}

	if _, err := os.Stat(c.TLS.KeyFile); os.IsNotExist(err) {
		return fmt.Errorf("tls key_file does not exist: %s", c.TLS.KeyFile)
	}

	return nil
}

// validateTLSClientAuth validates TLS client authentication settings.
func (c *Config) validateTLSClientAuth() error {
	validModes := map[string]bool{
		tlsClientAuthNone:             true,
		tlsClientAuthRequest:          true,
		tlsClientAuthRequire:          true,
		tlsClientAuthVerify:           true,
		tlsClientAuthRequireAndVerify: true,
	}

	if !validModes[c.TLS.ClientAuth] {
		return fmt.Errorf("invalid tls client_auth: %s", c.TLS.ClientAuth)
	}

	if c.TLS.ClientAuth == tlsClientAuthNone {
		return nil
	}

	if c.TLS.CAFile == "" {
		return fmt.Errorf("tls ca_file is required when client authentication is enabled")
	}

	if _, err := os.Stat(c.TLS.CAFile); os.IsNotExist(err) {
		return fmt.Errorf("tls ca_file does not exist: %s", c.TLS.CAFile)
	}

	return nil
}

// validateVims validates the VIM connection list.
func (c *Config) validateVims() error {
	seen := make(map[string]bool, len(c.Vims))
	defaults := 0

	for i, vim := range c.Vims {
		if vim.Name == "" {
			return fmt.Errorf("vims[%d]: name cannot be empty", i)
		}
		if seen[vim.Name] {
			return fmt.Errorf("vims[%d]: duplicate vim name %q", i, vim.Name)
		}
		seen[vim.Name] = true

		if vim.Default {
			defaults++
		}

		switch vim.Kind {
		case VimKindMock:
		case VimKindOpenStack:
			if vim.OpenStack.AuthURL == "" {
				return fmt.Errorf("vims[%d] (%s): openstack.auth_url is required", i, vim.Name)
			}
			if vim.OpenStack.Username == "" || vim.OpenStack.Password == "" {
				return fmt.Errorf("vims[%d] (%s): openstack credentials are required", i, vim.Name)
			}
		case VimKindHelm:
			if vim.Helm.ChartRef == "" {
				return fmt.Errorf("vims[%d] (%s): helm.chart_ref is required", i, vim.Name)
			}
		default:
			return fmt.Errorf("vims[%d] (%s): invalid kind %q (must be mock, openstack, or helm)", i, vim.Name, vim.Kind)
		}
	}

	if defaults > 1 {
		return fmt.Errorf("at most one vim may be marked default, found %d", defaults)
	}

	return nil
}

// validateLCM validates lifecycle manager settings.
func (c *Config) validateLCM() error {
	if c.LCM.OperationTimeout < time.Second {
		return fmt.Errorf("invalid lcm operation_timeout: %s (must be >= 1s)", c.LCM.OperationTimeout)
	}
	return nil
}

// validateNotifications validates notification delivery settings.
func (c *Config) validateNotifications() error {
	if !c.Notifications.Enabled {
		return nil
	}

	if c.Notifications.WorkerCount < 1 {
		return fmt.Errorf("invalid notifications worker_count: %d (must be > 0)", c.Notifications.WorkerCount)
	}

	if c.Notifications.MaxRetries < 0 {
		return fmt.Errorf("invalid notifications max_retries: %d", c.Notifications.MaxRetries)
	}

	return nil
}

// validateObservability validates the observability configuration.
func (c *Config) validateObservability() error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Observability.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", c.Observability.Logging.Level)
	}

	if c.Observability.Logging.Format != "json" && c.Observability.Logging.Format != "console" {
		return fmt.Errorf("invalid logging format: %s (must be json or console)", c.Observability.Logging.Format)
	}

	if c.Observability.Metrics.Enabled && c.Observability.Metrics.Path == "" {
		return fmt.Errorf("metrics path cannot be empty when metrics are enabled")
	}

	return nil
}

// DefaultVim returns the VIM marked default, or the only configured VIM when
// exactly one exists. Returns nil when no default can be determined.
func (c *Config) DefaultVim() *VimConfig {
	for i := range c.Vims {
		if c.Vims[i].Default {
			return &c.Vims[i]
		}
	}
	if len(c.Vims) == 1 {
		return &c.Vims[0]
	}
	return nil
}
