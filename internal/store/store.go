// Package store provides durable persistence for VNF instances and LCM
// operation occurrences, including the per-instance task lock that
// serializes lifecycle operations.
package store

import (
	"context"
	"errors"

	"github.com/piwi3910/vnfweave/internal/models"
)

// Common sentinel errors for store operations.
var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when creating a record whose id is taken.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrConflict is returned by AcquireTask when another operation already
	// holds the instance task lock.
	ErrConflict = errors.New("operation already in progress")

	// ErrInvalidState is returned when a request is illegal for the
	// record's current state.
	ErrInvalidState = errors.New("invalid state for requested action")

	// ErrStorageUnavailable is returned when the backend cannot be reached.
	ErrStorageUnavailable = errors.New("storage backend unavailable")
)

// Store defines persistence for VNF instances and operation occurrences.
// Implementations must be safe for concurrent use.
//
// AcquireTask is the single operation that must be a true atomic
// compare-and-set against the backing store: it is what guarantees that at
// most one lifecycle operation is in flight per instance. Occurrence
// records are never deleted; terminal occurrences form the audit trail.
type Store interface {
	// CreateInstance persists a new VNF instance.
	// Returns ErrAlreadyExists if the id is taken.
	CreateInstance(ctx context.Context, inst *models.VnfInstance) error

	// GetInstance retrieves an instance by id, including its current
	// task-lock state.
	// Returns ErrNotFound if the instance does not exist.
	GetInstance(ctx context.Context, id string) (*models.VnfInstance, error)

	// ListInstances retrieves all instances.
	ListInstances(ctx context.Context) ([]*models.VnfInstance, error)

	// UpdateInstance persists instance fields. The task-lock state is
	// managed exclusively through AcquireTask/ReleaseTask and is not
	// affected by this call.
	// Returns ErrNotFound if the instance does not exist.
	UpdateInstance(ctx context.Context, inst *models.VnfInstance) error

	// DeleteInstance removes an instance.
	// Returns ErrInvalidState unless the instance is NOT_INSTANTIATED and
	// no operation holds its task lock.
	DeleteInstance(ctx context.Context, id string) error

	// AcquireTask atomically sets the instance task state to operationName
	// if and only if it is currently empty.
	// Returns ErrConflict if the lock is held, ErrNotFound if the instance
	// does not exist.
	AcquireTask(ctx context.Context, id, operationName string) error

	// ReleaseTask clears the instance task state unconditionally. Called
	// on every terminal path, including the crash-recovery sweep.
	ReleaseTask(ctx context.Context, id string) error

	// ReplaceInstantiatedInfo atomically swaps the instance's resource
	// inventory and derives the instantiation state (nil info means
	// NOT_INSTANTIATED).
	ReplaceInstantiatedInfo(ctx context.Context, id string, info *models.InstantiatedVnfInfo) error

	// CreateOpOcc persists a new operation occurrence.
	// Returns ErrAlreadyExists if the id is taken.
	CreateOpOcc(ctx context.Context, occ *models.LcmOpOcc) error

	// GetOpOcc retrieves an occurrence by id.
	// Returns ErrNotFound if the occurrence does not exist.
	GetOpOcc(ctx context.Context, id string) (*models.LcmOpOcc, error)

	// UpdateOpOcc persists occurrence mutations.
	// Returns ErrNotFound if the occurrence does not exist.
	UpdateOpOcc(ctx context.Context, occ *models.LcmOpOcc) error

	// UpdateOpOccIf persists occurrence mutations only while the stored
	// occurrence is still in the from state. When a concurrent writer has
	// already moved the occurrence, the update is rejected with
	// ErrInvalidState and nothing is written.
	// Returns ErrNotFound if the occurrence does not exist.
	UpdateOpOccIf(ctx context.Context, occ *models.LcmOpOcc, from models.OperationState) error

	// ListOpOccs retrieves all occurrences.
	ListOpOccs(ctx context.Context) ([]*models.LcmOpOcc, error)

	// ListOpOccsByInstance retrieves the occurrences for one instance.
	ListOpOccsByInstance(ctx context.Context, vnfInstanceID string) ([]*models.LcmOpOcc, error)

	// ListPendingOpOccs retrieves every non-terminal occurrence. Used by
	// the crash-recovery sweep at process start.
	ListPendingOpOccs(ctx context.Context) ([]*models.LcmOpOcc, error)

	// Ping checks if the backend is available.
	// Returns ErrStorageUnavailable if it cannot be reached.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}
