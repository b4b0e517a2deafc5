package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/piwi3910/vnfweave/internal/models"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It is suitable for testing and single-instance deployments.
type MemoryStore struct {
	mu        sync.Mutex
	instances map[string]*models.VnfInstance
	occs      map[string]*models.LcmOpOcc
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances: make(map[string]*models.VnfInstance),
		occs:      make(map[string]*models.LcmOpOcc),
	}
}

func copyInstance(inst *models.VnfInstance) *models.VnfInstance {
	c := *inst
	c.InstantiatedVnfInfo = inst.InstantiatedVnfInfo.Clone()
	if inst.Metadata != nil {
		c.Metadata = make(map[string]string, len(inst.Metadata))
		for k, v := range inst.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func copyOpOcc(occ *models.LcmOpOcc) *models.LcmOpOcc {
	c := *occ
	if occ.ResourceChanges != nil {
		c.ResourceChanges = make([]models.ResourceChange, len(occ.ResourceChanges))
		copy(c.ResourceChanges, occ.ResourceChanges)
	}
	c.PriorInfo = occ.PriorInfo.Clone()
	c.TargetInfo = occ.TargetInfo.Clone()
	if occ.ExternalNetworks != nil {
		c.ExternalNetworks = make(map[string]string, len(occ.ExternalNetworks))
		for k, v := range occ.ExternalNetworks {
			c.ExternalNetworks[k] = v
		}
	}
	if occ.PriorInstance != nil {
		snap := *occ.PriorInstance
		c.PriorInstance = &snap
	}
	if occ.Error != nil {
		pd := *occ.Error
		c.Error = &pd
	}
	return &c
}

// CreateInstance persists a new VNF instance.
func (s *MemoryStore) CreateInstance(_ context.Context, inst *models.VnfInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[inst.ID]; exists {
		return ErrAlreadyExists
	}

	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

// GetInstance retrieves an instance by id.
func (s *MemoryStore) GetInstance(_ context.Context, id string) (*models.VnfInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[id]
	if !exists {
		return nil, ErrNotFound
	}

	return copyInstance(inst), nil
}

// ListInstances retrieves all instances.
func (s *MemoryStore) ListInstances(_ context.Context) ([]*models.VnfInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.VnfInstance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, copyInstance(inst))
	}
	return out, nil
}

// UpdateInstance persists instance fields, preserving the task-lock state.
func (s *MemoryStore) UpdateInstance(_ context.Context, inst *models.VnfInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.instances[inst.ID]
	if !exists {
		return ErrNotFound
	}

	c := copyInstance(inst)
	c.TaskState = existing.TaskState
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = time.Now().UTC()

	s.instances[inst.ID] = c
	return nil
}

// DeleteInstance removes a NOT_INSTANTIATED, unlocked instance.
func (s *MemoryStore) DeleteInstance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[id]
	if !exists {
		return ErrNotFound
	}
	if inst.InstantiationState != models.InstantiationStateNotInstantiated || inst.TaskState != "" {
		return ErrInvalidState
	}

	delete(s.instances, id)
	return nil
}

// AcquireTask atomically sets the task state if it is empty.
func (s *MemoryStore) AcquireTask(_ context.Context, id, operationName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[id]
	if !exists {
		return ErrNotFound
	}
	if inst.TaskState != "" {
		return ErrConflict
	}

	inst.TaskState = operationName
	inst.UpdatedAt = time.Now().UTC()
	return nil
}

// ReleaseTask clears the task state unconditionally.
func (s *MemoryStore) ReleaseTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[id]
	if !exists {
		return ErrNotFound
	}

	inst.TaskState = ""
	inst.UpdatedAt = time.Now().UTC()
	return nil
}

// ReplaceInstantiatedInfo swaps the resource inventory.
func (s *MemoryStore) ReplaceInstantiatedInfo(_ context.Context, id string, info *models.InstantiatedVnfInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, exists := s.instances[id]
	if !exists {
		return ErrNotFound
	}

	inst.InstantiatedVnfInfo = info.Clone()
	if info == nil {
		inst.InstantiationState = models.InstantiationStateNotInstantiated
	} else {
		inst.InstantiationState = models.InstantiationStateInstantiated
	}
	inst.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateOpOcc persists a new operation occurrence.
func (s *MemoryStore) CreateOpOcc(_ context.Context, occ *models.LcmOpOcc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.occs[occ.ID]; exists {
		return ErrAlreadyExists
	}

	s.occs[occ.ID] = copyOpOcc(occ)
	return nil
}

// GetOpOcc retrieves an occurrence by id.
func (s *MemoryStore) GetOpOcc(_ context.Context, id string) (*models.LcmOpOcc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	occ, exists := s.occs[id]
	if !exists {
		return nil, ErrNotFound
	}

	return copyOpOcc(occ), nil
}

// UpdateOpOcc persists occurrence mutations.
func (s *MemoryStore) UpdateOpOcc(_ context.Context, occ *models.LcmOpOcc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.occs[occ.ID]; !exists {
		return ErrNotFound
	}

	s.occs[occ.ID] = copyOpOcc(occ)
	return nil
}

// UpdateOpOccIf persists occurrence mutations only while the stored
// occurrence is still in the from state.
func (s *MemoryStore) UpdateOpOccIf(_ context.Context, occ *models.LcmOpOcc, from models.OperationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.occs[occ.ID]
	if !exists {
		return ErrNotFound
	}
	if existing.OperationState != from {
		return fmt.Errorf("%w: occurrence %s is %s, expected %s", ErrInvalidState, occ.ID, existing.OperationState, from)
	}

	s.occs[occ.ID] = copyOpOcc(occ)
	return nil
}

// ListOpOccs retrieves all occurrences.
func (s *MemoryStore) ListOpOccs(_ context.Context) ([]*models.LcmOpOcc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.LcmOpOcc, 0, len(s.occs))
	for _, occ := range s.occs {
		out = append(out, copyOpOcc(occ))
	}
	return out, nil
}

// ListOpOccsByInstance retrieves the occurrences for one instance.
func (s *MemoryStore) ListOpOccsByInstance(_ context.Context, vnfInstanceID string) ([]*models.LcmOpOcc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.LcmOpOcc, 0)
	for _, occ := range s.occs {
		if occ.VnfInstanceID == vnfInstanceID {
			out = append(out, copyOpOcc(occ))
		}
	}
	return out, nil
}

// ListPendingOpOccs retrieves every non-terminal occurrence.
func (s *MemoryStore) ListPendingOpOccs(_ context.Context) ([]*models.LcmOpOcc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.LcmOpOcc, 0)
	for _, occ := range s.occs {
		if !occ.OperationState.IsTerminal() {
			out = append(out, copyOpOcc(occ))
		}
	}
	return out, nil
}

// Ping checks if the store is healthy.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close releases the store's resources.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances = make(map[string]*models.VnfInstance)
	s.occs = make(map[string]*models.LcmOpOcc)
	return nil
}
