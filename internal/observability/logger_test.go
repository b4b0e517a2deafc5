package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfweave/internal/config"
)

func devLoggingConfig() config.LoggingConfig {
	return config.LoggingConfig{
		Level:       "debug",
		Format:      "console",
		Development: true,
	}
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{
			name: "development config",
			cfg:  devLoggingConfig(),
		},
		{
			name: "production config",
			cfg: config.LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		{
			name: "invalid level",
			cfg: config.LoggingConfig{
				Level:  "verbose",
				Format: "json",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			GlobalLogger = nil

			logger, err := InitLogger(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, logger)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, logger)
			assert.NotNil(t, logger.Logger)
			assert.Same(t, logger, GlobalLogger)

			_ = logger.Sync()
		})
	}
}

func TestGetLoggerPanicsWhenNotInitialized(t *testing.T) {
	saved := GlobalLogger
	defer func() { GlobalLogger = saved }()

	GlobalLogger = nil
	assert.Panics(t, func() {
		GetLogger()
	})
}

func TestLoggerWithFields(t *testing.T) {
	logger, err := InitLogger(devLoggingConfig())
	require.NoError(t, err)

	withFields := logger.WithFields(zap.String("key", "value"))
	require.NotNil(t, withFields)
	assert.NotSame(t, logger, withFields)
}

func TestLoggerWithError(t *testing.T) {
	logger, err := InitLogger(devLoggingConfig())
	require.NoError(t, err)

	withErr := logger.WithError(assert.AnError)
	require.NotNil(t, withErr)
	assert.NotSame(t, logger, withErr)
}

func TestLoggerWithComponent(t *testing.T) {
	logger, err := InitLogger(devLoggingConfig())
	require.NoError(t, err)

	withComponent := logger.WithComponent("lcm")
	require.NotNil(t, withComponent)
	assert.NotSame(t, logger, withComponent)
}

func TestContextWithLogger(t *testing.T) {
	logger, err := InitLogger(devLoggingConfig())
	require.NoError(t, err)

	ctx := ContextWithLogger(context.Background(), logger)
	fromCtx := LoggerFromContext(ctx)
	assert.Same(t, logger, fromCtx)
}

func TestLoggerFromContextFallsBackToGlobal(t *testing.T) {
	logger, err := InitLogger(devLoggingConfig())
	require.NoError(t, err)

	fromCtx := LoggerFromContext(context.Background())
	assert.Same(t, logger, fromCtx)
}

func TestLogHelpers(t *testing.T) {
	logger, err := InitLogger(devLoggingConfig())
	require.NoError(t, err)

	// These should not panic.
	logger.LogRequest("POST", "/vnflcm/v1/vnf_instances", 201, 12.5)
	logger.LogDriverOperation("apply", "mock", "vnf-123", nil)
	logger.LogDriverOperation("apply", "openstack", "vnf-456", assert.AnError)
	logger.LogStateTransition("occ-1", "SCALE", "STARTING", "PROCESSING")
	logger.LogRedisOperation("SET", "vnf:instance:vnf-123", nil)
	logger.LogRedisOperation("GET", "vnf:instance:vnf-456", assert.AnError)
}
