// Package mock provides an in-memory infra driver for tests and local
// development. Failures can be scripted per call so state machine recovery
// paths are exercisable without a real VIM.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/piwi3910/vnfweave/internal/driver"
)

// Driver is a scriptable in-memory implementation of driver.Driver.
// Apply materialises the desired set verbatim; deployed state is kept per
// instance so Query and Rollback behave like a converging VIM.
type Driver struct {
	mu       sync.Mutex
	deployed map[string]*driver.ResourceSet
	applies  int
	seq      int

	// FailNextApply makes the next Apply calls fail with FailWith.
	// Decremented per failed call.
	FailNextApply int

	// FailWith is the error returned while FailNextApply > 0. Defaults to
	// a recoverable timeout.
	FailWith error

	// FailRollback makes Rollback fail once.
	FailRollback bool

	// BlockApply, when non-nil, makes Apply wait for a receive before
	// doing anything. Lets tests hold an operation in flight.
	BlockApply chan struct{}
}

// New creates a mock driver with no deployed state.
func New() *Driver {
	return &Driver{
		deployed: make(map[string]*driver.ResourceSet),
	}
}

// Name returns the driver name.
func (d *Driver) Name() string { return "mock" }

// VimKind returns the VIM technology identifier.
func (d *Driver) VimKind() string { return "mock" }

// Apply converges the in-memory state to the desired set.
func (d *Driver) Apply(ctx context.Context, vnfInstanceID string, desired *driver.ResourceSet, _ map[string]interface{}) (*driver.AppliedResult, error) {
	d.mu.Lock()
	block := d.BlockApply
	d.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, driver.Recoverable(ctx.Err())
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.applies++

	if d.FailNextApply > 0 {
		d.FailNextApply--
		if d.FailWith != nil {
			return nil, d.FailWith
		}
		return nil, driver.Recoverable(fmt.Errorf("simulated VIM timeout"))
	}

	if len(desired.Units) == 0 {
		delete(d.deployed, vnfInstanceID)
		return &driver.AppliedResult{CorrelationToken: d.token(vnfInstanceID)}, nil
	}

	cp := *desired
	cp.Units = make([]driver.DesiredUnit, len(desired.Units))
	copy(cp.Units, desired.Units)
	d.deployed[vnfInstanceID] = &cp

	result := &driver.AppliedResult{CorrelationToken: d.token(vnfInstanceID)}
	for _, u := range desired.Units {
		result.Units = append(result.Units, driver.AppliedUnit{
			VnfcID:            u.VnfcID,
			VduID:             u.VduID,
			ComputeResourceID: "res-" + u.VnfcID,
		})
	}

	return result, nil
}

// Rollback restores the prior resource set.
func (d *Driver) Rollback(_ context.Context, vnfInstanceID string, prior *driver.ResourceSet) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.FailRollback {
		d.FailRollback = false
		return driver.Recoverable(fmt.Errorf("simulated rollback failure"))
	}

	if prior == nil || len(prior.Units) == 0 {
		delete(d.deployed, vnfInstanceID)
		return nil
	}

	cp := *prior
	cp.Units = make([]driver.DesiredUnit, len(prior.Units))
	copy(cp.Units, prior.Units)
	d.deployed[vnfInstanceID] = &cp

	return nil
}

// Query returns the units currently deployed for the instance.
func (d *Driver) Query(_ context.Context, vnfInstanceID string) ([]driver.AppliedUnit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, exists := d.deployed[vnfInstanceID]
	if !exists {
		return nil, driver.ErrVnfNotDeployed
	}

	units := make([]driver.AppliedUnit, 0, len(set.Units))
	for _, u := range set.Units {
		units = append(units, driver.AppliedUnit{
			VnfcID:            u.VnfcID,
			VduID:             u.VduID,
			ComputeResourceID: "res-" + u.VnfcID,
		})
	}

	return units, nil
}

// Health always reports healthy.
func (d *Driver) Health(_ context.Context) error { return nil }

// Close releases the in-memory state.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deployed = make(map[string]*driver.ResourceSet)
	return nil
}

// ApplyCount returns the number of Apply calls seen, including failures.
func (d *Driver) ApplyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applies
}

// Deployed returns the current resource set for an instance, or nil.
func (d *Driver) Deployed(vnfInstanceID string) *driver.ResourceSet {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deployed[vnfInstanceID]
}

func (d *Driver) token(vnfInstanceID string) string {
	d.seq++
	return fmt.Sprintf("mock-%s-%d", vnfInstanceID, d.seq)
}
