package driver

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry manages the set of infra drivers known at process start.
// Drivers are registered explicitly during wiring; there is no runtime
// discovery or dynamic loading. Thread-safe.
type Registry struct {
	mu           sync.RWMutex
	drivers      map[string]Driver
	registeredAt map[string]time.Time
	defaultName  string
	logger       *zap.Logger
}

// NewRegistry creates an empty driver registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		drivers:      make(map[string]Driver),
		registeredAt: make(map[string]time.Time),
		logger:       logger,
	}
}

// Register adds a driver under its Name.
// Returns an error if a driver with the same name is already registered.
func (r *Registry) Register(d Driver, isDefault bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := d.Name()
	if _, exists := r.drivers[name]; exists {
		return fmt.Errorf("driver %s already registered", name)
	}

	r.drivers[name] = d
	r.registeredAt[name] = time.Now()
	if isDefault {
		r.defaultName = name
	}

	r.logger.Info("infra driver registered",
		zap.String("driver", name),
		zap.String("vim_kind", d.VimKind()),
		zap.Bool("default", isDefault),
	)

	return nil
}

// Get retrieves a driver by name. An empty name selects the default.
// Returns an error when no matching driver exists.
func (r *Registry) Get(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	if name == "" {
		return nil, fmt.Errorf("no default infra driver configured")
	}

	d, exists := r.drivers[name]
	if !exists {
		return nil, fmt.Errorf("unknown infra driver %s", name)
	}

	return d, nil
}

// Names returns the registered driver names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	return names
}

// Close closes all registered drivers.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for name, d := range r.drivers {
		if err := d.Close(); err != nil {
			r.logger.Error("error closing driver",
				zap.String("driver", name),
				zap.Error(err),
			)
			lastErr = err
		}
	}

	r.drivers = make(map[string]Driver)
	r.defaultName = ""

	return lastErr
}
