package driver_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/piwi3910/vnfweave/internal/driver"
	"github.com/piwi3910/vnfweave/internal/driver/mock"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := driver.NewRegistry(zap.NewNop())

	drv := mock.New()
	require.NoError(t, registry.Register(drv, true))

	// By name.
	got, err := registry.Get("mock")
	require.NoError(t, err)
	assert.Same(t, driver.Driver(drv), got)

	// Empty name selects the default.
	got, err = registry.Get("")
	require.NoError(t, err)
	assert.Same(t, driver.Driver(drv), got)

	assert.Equal(t, []string{"mock"}, registry.Names())
}

func TestRegistryDuplicateName(t *testing.T) {
	registry := driver.NewRegistry(zap.NewNop())

	require.NoError(t, registry.Register(mock.New(), false))

	err := registry.Register(mock.New(), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistryUnknownDriver(t *testing.T) {
	registry := driver.NewRegistry(zap.NewNop())

	_, err := registry.Get("openstack")
	require.Error(t, err)

	// No default configured either.
	_, err = registry.Get("")
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want driver.ErrorClass
	}{
		{
			name: "recoverable wrapper",
			err:  driver.Recoverable(fmt.Errorf("gateway timeout")),
			want: driver.ClassRecoverable,
		},
		{
			name: "fatal wrapper",
			err:  driver.Fatal(fmt.Errorf("template rejected")),
			want: driver.ClassFatal,
		},
		{
			name: "wrapped deeper",
			err:  fmt.Errorf("apply failed: %w", driver.Fatal(errors.New("bad flavour"))),
			want: driver.ClassFatal,
		},
		{
			name: "plain error defaults to recoverable",
			err:  errors.New("connection reset"),
			want: driver.ClassRecoverable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, driver.Classify(tt.err))
		})
	}
}

func TestInfraErrorUnwrap(t *testing.T) {
	inner := errors.New("quota exceeded")
	err := driver.Recoverable(inner)

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "recoverable")
	assert.Contains(t, err.Error(), "quota exceeded")
}
