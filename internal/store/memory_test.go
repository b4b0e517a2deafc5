package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/vnfweave/internal/models"
)

func TestMemoryStore_InstanceCRUD(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, testInstance("inst-1")))
	assert.ErrorIs(t, s.CreateInstance(ctx, testInstance("inst-1")), ErrAlreadyExists)

	got, err := s.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "D1", got.VnfdID)

	got.VnfInstanceName = "edge-router"
	require.NoError(t, s.UpdateInstance(ctx, got))

	got, err = s.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "edge-router", got.VnfInstanceName)

	list, err := s.ListInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteInstance(ctx, "inst-1"))
	_, err = s.GetInstance(ctx, "inst-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	inst := testInstance("inst-1")
	inst.InstantiatedVnfInfo = &models.InstantiatedVnfInfo{
		FlavourID: "simple",
		VnfcResourceInfo: []models.VnfcResourceInfo{
			{ID: "vnfc-1", VduID: "VDU1"},
		},
	}
	inst.InstantiationState = models.InstantiationStateInstantiated
	require.NoError(t, s.CreateInstance(ctx, inst))

	got, err := s.GetInstance(ctx, "inst-1")
	require.NoError(t, err)

	// Mutating the returned record must not leak into the store.
	got.InstantiatedVnfInfo.VnfcResourceInfo[0].ID = "tampered"

	fresh, err := s.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "vnfc-1", fresh.InstantiatedVnfInfo.VnfcResourceInfo[0].ID)
}

func TestMemoryStore_AcquireTaskIsExclusive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, testInstance("inst-1")))

	const attempts = 32

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.AcquireTask(ctx, "inst-1", "INSTANTIATE"); err == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Exactly one concurrent acquire may win.
	assert.Equal(t, 1, acquired)

	inst, err := s.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "INSTANTIATE", inst.TaskState)
}

func TestMemoryStore_UpdateInstancePreservesTaskState(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, testInstance("inst-1")))
	require.NoError(t, s.AcquireTask(ctx, "inst-1", "SCALE"))

	inst, err := s.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	inst.TaskState = ""
	require.NoError(t, s.UpdateInstance(ctx, inst))

	got, err := s.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "SCALE", got.TaskState)
}

func TestMemoryStore_UpdateOpOccIfIsConditional(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	occ := &models.LcmOpOcc{
		ID:             "occ-1",
		VnfInstanceID:  "inst-1",
		Operation:      models.OperationInstantiate,
		OperationState: models.OperationStateFailedTemp,
	}
	require.NoError(t, s.CreateOpOcc(ctx, occ))

	retry := *occ
	retry.OperationState = models.OperationStateProcessing
	require.NoError(t, s.UpdateOpOccIf(ctx, &retry, models.OperationStateFailedTemp))

	// The occurrence already left FAILED_TEMP, so a second taker loses.
	fail := *occ
	fail.OperationState = models.OperationStateFailed
	assert.ErrorIs(t, s.UpdateOpOccIf(ctx, &fail, models.OperationStateFailedTemp), ErrInvalidState)

	got, err := s.GetOpOcc(ctx, "occ-1")
	require.NoError(t, err)
	assert.Equal(t, models.OperationStateProcessing, got.OperationState)

	missing := &models.LcmOpOcc{ID: "missing", OperationState: models.OperationStateFailed}
	assert.ErrorIs(t, s.UpdateOpOccIf(ctx, missing, models.OperationStateFailedTemp), ErrNotFound)
}

func TestMemoryStore_PendingOpOccs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	occA := &models.LcmOpOcc{
		ID:             "occ-a",
		VnfInstanceID:  "inst-1",
		Operation:      models.OperationInstantiate,
		OperationState: models.OperationStateProcessing,
	}
	occB := &models.LcmOpOcc{
		ID:             "occ-b",
		VnfInstanceID:  "inst-2",
		Operation:      models.OperationScale,
		OperationState: models.OperationStateCompleted,
	}
	require.NoError(t, s.CreateOpOcc(ctx, occA))
	require.NoError(t, s.CreateOpOcc(ctx, occB))

	pending, err := s.ListPendingOpOccs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "occ-a", pending[0].ID)

	byInst, err := s.ListOpOccsByInstance(ctx, "inst-2")
	require.NoError(t, err)
	require.Len(t, byInst, 1)
	assert.Equal(t, "occ-b", byInst[0].ID)
}
