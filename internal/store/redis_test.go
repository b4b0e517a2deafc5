package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/vnfweave/internal/models"
)

// setupTestRedis creates a miniredis-backed store for testing.
func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := &RedisConfig{
		Addr:         mr.Addr(),
		DB:           0,
		MaxRetries:   1,
		DialTimeout:  1 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     5,
	}

	store := NewRedisStore(cfg)
	t.Cleanup(func() { require.NoError(t, store.Close()) })

	return store
}

func testInstance(id string) *models.VnfInstance {
	return &models.VnfInstance{
		ID:                 id,
		VnfdID:             "D1",
		VnfProvider:        "acme",
		InstantiationState: models.InstantiationStateNotInstantiated,
	}
}

func TestRedisStore_CreateGetInstance(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-1")))

	got, err := store.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "D1", got.VnfdID)
	assert.Empty(t, got.TaskState)
	assert.False(t, got.CreatedAt.IsZero())

	// Duplicate id is rejected.
	err = store.CreateInstance(ctx, testInstance("inst-1"))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = store.GetInstance(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_AcquireRelease(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-1")))

	require.NoError(t, store.AcquireTask(ctx, "inst-1", "INSTANTIATE"))

	// Second acquire conflicts, whatever the operation.
	err := store.AcquireTask(ctx, "inst-1", "SCALE")
	assert.ErrorIs(t, err, ErrConflict)

	got, err := store.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "INSTANTIATE", got.TaskState)

	require.NoError(t, store.ReleaseTask(ctx, "inst-1"))

	got, err = store.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Empty(t, got.TaskState)

	// Lock is usable again after release.
	require.NoError(t, store.AcquireTask(ctx, "inst-1", "SCALE"))

	err = store.AcquireTask(ctx, "missing", "HEAL")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_UpdateInstancePreservesTaskState(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-1")))
	require.NoError(t, store.AcquireTask(ctx, "inst-1", "INSTANTIATE"))

	inst, err := store.GetInstance(ctx, "inst-1")
	require.NoError(t, err)

	inst.VnfInstanceName = "renamed"
	inst.TaskState = "" // a stale in-memory value must not clear the lock
	require.NoError(t, store.UpdateInstance(ctx, inst))

	got, err := store.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.VnfInstanceName)
	assert.Equal(t, "INSTANTIATE", got.TaskState)
}

func TestRedisStore_ReplaceInstantiatedInfo(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-1")))

	info := &models.InstantiatedVnfInfo{
		FlavourID: "simple",
		VnfState:  models.VnfStateStarted,
		VnfcResourceInfo: []models.VnfcResourceInfo{
			{ID: "vnfc-1", VduID: "VDU1"},
		},
	}
	require.NoError(t, store.ReplaceInstantiatedInfo(ctx, "inst-1", info))

	got, err := store.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstantiationStateInstantiated, got.InstantiationState)
	require.NotNil(t, got.InstantiatedVnfInfo)
	assert.Len(t, got.InstantiatedVnfInfo.VnfcResourceInfo, 1)

	// nil info clears the inventory and flips the state back.
	require.NoError(t, store.ReplaceInstantiatedInfo(ctx, "inst-1", nil))

	got, err = store.GetInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, models.InstantiationStateNotInstantiated, got.InstantiationState)
	assert.Nil(t, got.InstantiatedVnfInfo)
}

func TestRedisStore_DeleteInstance(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, store.CreateInstance(ctx, testInstance("inst-1")))

	// Locked instance cannot be deleted.
	require.NoError(t, store.AcquireTask(ctx, "inst-1", "INSTANTIATE"))
	assert.ErrorIs(t, store.DeleteInstance(ctx, "inst-1"), ErrInvalidState)
	require.NoError(t, store.ReleaseTask(ctx, "inst-1"))

	// Instantiated instance cannot be deleted.
	require.NoError(t, store.ReplaceInstantiatedInfo(ctx, "inst-1", &models.InstantiatedVnfInfo{
		FlavourID: "simple",
		VnfState:  models.VnfStateStarted,
	}))
	assert.ErrorIs(t, store.DeleteInstance(ctx, "inst-1"), ErrInvalidState)

	require.NoError(t, store.ReplaceInstantiatedInfo(ctx, "inst-1", nil))
	require.NoError(t, store.DeleteInstance(ctx, "inst-1"))

	_, err := store.GetInstance(ctx, "inst-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_OpOccLifecycle(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	occ := &models.LcmOpOcc{
		ID:             "occ-1",
		VnfInstanceID:  "inst-1",
		Operation:      models.OperationInstantiate,
		OperationState: models.OperationStateStarting,
		StartTime:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateOpOcc(ctx, occ))
	assert.ErrorIs(t, store.CreateOpOcc(ctx, occ), ErrAlreadyExists)

	pending, err := store.ListPendingOpOccs(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "occ-1", pending[0].ID)

	occ.OperationState = models.OperationStateCompleted
	occ.ResourceChanges = []models.ResourceChange{
		{VduID: "VDU1", ChangeType: models.ChangeTypeAdded, AffectedVnfcID: "vnfc-1"},
	}
	require.NoError(t, store.UpdateOpOcc(ctx, occ))

	got, err := store.GetOpOcc(ctx, "occ-1")
	require.NoError(t, err)
	assert.Equal(t, models.OperationStateCompleted, got.OperationState)
	assert.Len(t, got.ResourceChanges, 1)

	// Terminal occurrences leave the pending set but stay listable.
	pending, err = store.ListPendingOpOccs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	byInst, err := store.ListOpOccsByInstance(ctx, "inst-1")
	require.NoError(t, err)
	assert.Len(t, byInst, 1)

	all, err := store.ListOpOccs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRedisStore_UpdateOpOccIfIsConditional(t *testing.T) {
	store := setupTestRedis(t)
	ctx := context.Background()

	occ := &models.LcmOpOcc{
		ID:             "occ-1",
		VnfInstanceID:  "inst-1",
		Operation:      models.OperationScale,
		OperationState: models.OperationStateFailedTemp,
		StartTime:      time.Now().UTC(),
	}
	require.NoError(t, store.CreateOpOcc(ctx, occ))

	fail := *occ
	fail.OperationState = models.OperationStateFailed
	require.NoError(t, store.UpdateOpOccIf(ctx, &fail, models.OperationStateFailedTemp))

	// The occurrence already left FAILED_TEMP, so a second taker loses.
	retry := *occ
	retry.OperationState = models.OperationStateProcessing
	assert.ErrorIs(t, store.UpdateOpOccIf(ctx, &retry, models.OperationStateFailedTemp), ErrInvalidState)

	got, err := store.GetOpOcc(ctx, "occ-1")
	require.NoError(t, err)
	assert.Equal(t, models.OperationStateFailed, got.OperationState)

	// The winning transition was terminal, so the pending index is clean.
	pending, err := store.ListPendingOpOccs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	missing := &models.LcmOpOcc{ID: "missing", OperationState: models.OperationStateFailed}
	assert.ErrorIs(t, store.UpdateOpOccIf(ctx, missing, models.OperationStateFailedTemp), ErrNotFound)
}

func TestRedisStore_Ping(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(&RedisConfig{Addr: mr.Addr(), MaxRetries: 1})
	defer store.Close()

	require.NoError(t, store.Ping(context.Background()))

	mr.Close()
	assert.ErrorIs(t, store.Ping(context.Background()), ErrStorageUnavailable)
}
