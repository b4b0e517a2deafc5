// Package driver provides the abstraction layer between the LCM state
// machine and VIM-specific executors. It defines the Driver interface that
// all infrastructure backends (OpenStack/Heat, Kubernetes/Helm, ...) must
// implement, and the error classification the state machine keys off.
package driver

import (
	"context"
	"errors"
	"fmt"
)

// ErrVnfNotDeployed is returned by Query when the VIM holds no resources
// for the instance.
var ErrVnfNotDeployed = errors.New("no resources deployed for instance")

// ErrorClass classifies an infra failure for diagnostics. Both classes
// leave the occurrence in FAILED_TEMP; recovery is always operator-driven.
type ErrorClass string

const (
	// ClassRecoverable marks transient VIM failures (timeouts, 5xx).
	ClassRecoverable ErrorClass = "recoverable"

	// ClassFatal marks failures a retry cannot fix (rejected templates,
	// unsupported descriptor shapes).
	ClassFatal ErrorClass = "fatal"
)

// InfraError wraps a VIM failure with its classification. The underlying
// driver error text is preserved verbatim so the state machine can surface
// it in the occurrence's problem details.
type InfraError struct {
	Class ErrorClass
	Err   error
}

// Error implements the error interface.
func (e *InfraError) Error() string {
	return fmt.Sprintf("infra error (%s): %v", e.Class, e.Err)
}

// Unwrap returns the underlying VIM error.
func (e *InfraError) Unwrap() error {
	return e.Err
}

// Recoverable wraps err as a transient infra failure.
func Recoverable(err error) *InfraError {
	return &InfraError{Class: ClassRecoverable, Err: err}
}

// Fatal wraps err as a non-retryable infra failure.
func Fatal(err error) *InfraError {
	return &InfraError{Class: ClassFatal, Err: err}
}

// Classify extracts the classification from err, defaulting to recoverable
// for unwrapped errors (an unknown failure must not be treated as one a
// retry cannot fix).
func Classify(err error) ErrorClass {
	var ie *InfraError
	if errors.As(err, &ie) {
		return ie.Class
	}
	return ClassRecoverable
}

// DesiredUnit is one compute unit the VIM should converge to.
type DesiredUnit struct {
	// VnfcID is the planner-assigned VNFC identity.
	VnfcID string `json:"vnfcId"`

	// VduID is the VDU template the unit is stamped from.
	VduID string `json:"vduId"`

	// ImageID is the software image to boot.
	ImageID string `json:"imageId"`

	// FlavourID is the compute flavour (sizing).
	FlavourID string `json:"flavourId"`

	// Networks lists the network resource ids to attach.
	Networks []string `json:"networks,omitempty"`
}

// ResourceSet is the full desired resource state for one VNF instance.
// Apply must converge the VIM to exactly this set; an empty set means all
// resources are released.
type ResourceSet struct {
	// Units lists the desired compute units.
	Units []DesiredUnit `json:"units"`

	// ExternalNetworks maps external virtual link id to the VIM network
	// resource backing it.
	ExternalNetworks map[string]string `json:"externalNetworks,omitempty"`
}

// AppliedUnit is one realised compute unit after a successful Apply.
type AppliedUnit struct {
	// VnfcID echoes the desired unit's identity.
	VnfcID string `json:"vnfcId"`

	// VduID echoes the desired unit's VDU.
	VduID string `json:"vduId"`

	// ComputeResourceID is the VIM-side resource identifier.
	ComputeResourceID string `json:"computeResourceId"`
}

// AppliedResult is the outcome of a successful Apply.
type AppliedResult struct {
	// Units lists the realised compute units.
	Units []AppliedUnit `json:"units"`

	// CorrelationToken is an opaque driver token (stack id, release
	// revision) persisted into the occurrence for idempotent retry.
	CorrelationToken string `json:"correlationToken,omitempty"`
}

// Driver is the contract between the LCM state machine and one VIM.
//
// Apply must be idempotent on retry: calling it again with the same desired
// set after a prior partial failure must converge rather than duplicate
// resources. Drivers hold no durable state beyond the correlation token.
type Driver interface {
	// Name returns the unique name of this driver (e.g. "openstack").
	Name() string

	// VimKind identifies the backing VIM technology.
	VimKind() string

	// Apply converges the VIM to the desired resource set.
	Apply(ctx context.Context, vnfInstanceID string, desired *ResourceSet, additionalParams map[string]interface{}) (*AppliedResult, error)

	// Rollback restores the last-known-good resource set. Invoked only by
	// the state machine's ROLLING_BACK transition.
	Rollback(ctx context.Context, vnfInstanceID string, prior *ResourceSet) error

	// Query returns the resource units currently deployed for the
	// instance. Returns ErrVnfNotDeployed when the VIM holds nothing.
	Query(ctx context.Context, vnfInstanceID string) ([]AppliedUnit, error)

	// Health performs a health check on the VIM.
	Health(ctx context.Context) error

	// Close cleanly shuts down the driver and releases resources.
	Close() error
}
