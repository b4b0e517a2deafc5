package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/piwi3910/vnfweave/internal/models"
)

const (
	// Redis key prefixes
	instanceKeyPrefix      = "vnf:instance:"
	instanceSetKey         = "vnf:instances"
	taskLockKeyPrefix      = "vnf:task:"
	opOccKeyPrefix         = "vnf:opocc:"
	opOccSetKey            = "vnf:opoccs"
	opOccInstanceIdxPrefix = "vnf:opoccs:instance:"
	opOccPendingSetKey     = "vnf:opoccs:pending"
)

// RedisConfig holds configuration for the Redis connection.
type RedisConfig struct {
	// Addr is the Redis server address (host:port) for standalone mode.
	// Ignored if UseSentinel is true.
	Addr string

	// Password for Redis authentication.
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// UseSentinel enables Redis Sentinel mode for high availability.
	UseSentinel bool

	// SentinelAddrs is the list of Sentinel server addresses.
	// Required if UseSentinel is true.
	SentinelAddrs []string

	// MasterName is the name of the Redis master in Sentinel mode.
	// Required if UseSentinel is true.
	MasterName string

	// MaxRetries is the maximum number of retries for failed commands.
	MaxRetries int

	// DialTimeout is the timeout for establishing connections.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration

	// PoolSize is the maximum number of socket connections.
	PoolSize int
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// RedisStore implements the Store interface using Redis as the backend.
// It supports both standalone Redis and Redis Sentinel for high availability.
//
// Data model:
//   - vnf:instance:<id> (string) - instance JSON, without the task state
//   - vnf:instances (set) - set of instance IDs
//   - vnf:task:<id> (string) - task lock, value is the operation name
//   - vnf:opocc:<id> (string) - occurrence JSON
//   - vnf:opoccs (set) - set of occurrence IDs
//   - vnf:opoccs:instance:<vnfId> (set) - occurrence index per instance
//   - vnf:opoccs:pending (set) - non-terminal occurrence IDs
//
// The task lock is a dedicated key written with SET NX, which gives
// AcquireTask the atomic compare-and-set the occurrence protocol requires.
// The lock state is merged into the instance record on read.
type RedisStore struct {
	client redis.UniversalClient
	config *RedisConfig
}

// NewRedisStore creates a new RedisStore instance.
// It automatically configures Redis Sentinel if enabled in the config.
func NewRedisStore(cfg *RedisConfig) *RedisStore {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	var client redis.UniversalClient

	if cfg.UseSentinel {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
			PoolSize:      cfg.PoolSize,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
		})
	}

	return &RedisStore{
		client: client,
		config: cfg,
	}
}

// CreateInstance persists a new VNF instance.
func (r *RedisStore) CreateInstance(ctx context.Context, inst *models.VnfInstance) error {
	key := instanceKeyPrefix + inst.ID

	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	data, err := marshalInstance(inst)
	if err != nil {
		return err
	}

	// SETNX decides create-vs-exists atomically.
	created, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}

	if err := r.client.SAdd(ctx, instanceSetKey, inst.ID).Err(); err != nil {
		return fmt.Errorf("failed to index instance: %w", err)
	}

	return nil
}

// GetInstance retrieves an instance by id, merging in the task-lock state.
func (r *RedisStore) GetInstance(ctx context.Context, id string) (*models.VnfInstance, error) {
	data, err := r.client.Get(ctx, instanceKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	var inst models.VnfInstance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("failed to unmarshal instance: %w", err)
	}

	task, err := r.client.Get(ctx, taskLockKeyPrefix+id).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get task state: %w", err)
	}
	inst.TaskState = task

	return &inst, nil
}

// ListInstances retrieves all instances.
func (r *RedisStore) ListInstances(ctx context.Context) ([]*models.VnfInstance, error) {
	ids, err := r.client.SMembers(ctx, instanceSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list instance IDs: %w", err)
	}

	out := make([]*models.VnfInstance, 0, len(ids))
	for _, id := range ids {
		inst, err := r.GetInstance(ctx, id)
		if err != nil {
			// Skip records that failed to load.
			continue
		}
		out = append(out, inst)
	}

	return out, nil
}

// UpdateInstance persists instance fields. The task-lock key is untouched.
func (r *RedisStore) UpdateInstance(ctx context.Context, inst *models.VnfInstance) error {
	key := instanceKeyPrefix + inst.ID

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check instance existence: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	inst.UpdatedAt = time.Now().UTC()

	data, err := marshalInstance(inst)
	if err != nil {
		return err
	}

	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}

	return nil
}

// DeleteInstance removes a NOT_INSTANTIATED, unlocked instance.
func (r *RedisStore) DeleteInstance(ctx context.Context, id string) error {
	inst, err := r.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if inst.InstantiationState != models.InstantiationStateNotInstantiated || inst.TaskState != "" {
		return ErrInvalidState
	}

	pipe := r.client.Pipeline()
	pipe.Del(ctx, instanceKeyPrefix+id)
	pipe.SRem(ctx, instanceSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete instance: %w", err)
	}

	return nil
}

// AcquireTask atomically sets the task lock if it is free.
func (r *RedisStore) AcquireTask(ctx context.Context, id, operationName string) error {
	exists, err := r.client.Exists(ctx, instanceKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("failed to check instance existence: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	acquired, err := r.client.SetNX(ctx, taskLockKeyPrefix+id, operationName, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire task lock: %w", err)
	}
	if !acquired {
		return ErrConflict
	}

	return nil
}

// ReleaseTask clears the task lock unconditionally.
func (r *RedisStore) ReleaseTask(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, taskLockKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to release task lock: %w", err)
	}
	return nil
}

// ReplaceInstantiatedInfo swaps the resource inventory.
func (r *RedisStore) ReplaceInstantiatedInfo(ctx context.Context, id string, info *models.InstantiatedVnfInfo) error {
	inst, err := r.GetInstance(ctx, id)
	if err != nil {
		return err
	}

	inst.InstantiatedVnfInfo = info
	if info == nil {
		inst.InstantiationState = models.InstantiationStateNotInstantiated
	} else {
		inst.InstantiationState = models.InstantiationStateInstantiated
	}

	return r.UpdateInstance(ctx, inst)
}

// CreateOpOcc persists a new operation occurrence.
func (r *RedisStore) CreateOpOcc(ctx context.Context, occ *models.LcmOpOcc) error {
	key := opOccKeyPrefix + occ.ID

	data, err := json.Marshal(occ)
	if err != nil {
		return fmt.Errorf("failed to marshal occurrence: %w", err)
	}

	created, err := r.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create occurrence: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}

	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, opOccSetKey, occ.ID)
	pipe.SAdd(ctx, opOccInstanceIdxPrefix+occ.VnfInstanceID, occ.ID)
	if !occ.OperationState.IsTerminal() {
		pipe.SAdd(ctx, opOccPendingSetKey, occ.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index occurrence: %w", err)
	}

	return nil
}

// GetOpOcc retrieves an occurrence by id.
func (r *RedisStore) GetOpOcc(ctx context.Context, id string) (*models.LcmOpOcc, error) {
	data, err := r.client.Get(ctx, opOccKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get occurrence: %w", err)
	}

	var occ models.LcmOpOcc
	if err := json.Unmarshal(data, &occ); err != nil {
		return nil, fmt.Errorf("failed to unmarshal occurrence: %w", err)
	}

	return &occ, nil
}

// UpdateOpOcc persists occurrence mutations and maintains the pending index.
func (r *RedisStore) UpdateOpOcc(ctx context.Context, occ *models.LcmOpOcc) error {
	key := opOccKeyPrefix + occ.ID

	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check occurrence existence: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	data, err := json.Marshal(occ)
	if err != nil {
		return fmt.Errorf("failed to marshal occurrence: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, data, 0)
	if occ.OperationState.IsTerminal() {
		pipe.SRem(ctx, opOccPendingSetKey, occ.ID)
	} else {
		pipe.SAdd(ctx, opOccPendingSetKey, occ.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update occurrence: %w", err)
	}

	return nil
}

// UpdateOpOccIf persists occurrence mutations only while the stored
// occurrence is still in the from state. The write runs under WATCH so a
// concurrent state transition on the same occurrence loses cleanly instead
// of being overwritten.
func (r *RedisStore) UpdateOpOccIf(ctx context.Context, occ *models.LcmOpOcc, from models.OperationState) error {
	key := opOccKeyPrefix + occ.ID

	data, err := json.Marshal(occ)
	if err != nil {
		return fmt.Errorf("failed to marshal occurrence: %w", err)
	}

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get occurrence: %w", err)
		}

		var existing models.LcmOpOcc
		if err := json.Unmarshal(current, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal occurrence: %w", err)
		}
		if existing.OperationState != from {
			return fmt.Errorf("%w: occurrence %s is %s, expected %s", ErrInvalidState, occ.ID, existing.OperationState, from)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if occ.OperationState.IsTerminal() {
				pipe.SRem(ctx, opOccPendingSetKey, occ.ID)
			} else {
				pipe.SAdd(ctx, opOccPendingSetKey, occ.ID)
			}
			return nil
		})
		return err
	}

	err = r.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another writer touched the key between GET and EXEC. Whatever it
		// wrote, the occurrence is no longer in the state we observed.
		return fmt.Errorf("%w: occurrence %s was modified concurrently", ErrInvalidState, occ.ID)
	}
	return err
}

// ListOpOccs retrieves all occurrences.
func (r *RedisStore) ListOpOccs(ctx context.Context) ([]*models.LcmOpOcc, error) {
	return r.listOccSet(ctx, opOccSetKey)
}

// ListOpOccsByInstance retrieves the occurrences for one instance.
func (r *RedisStore) ListOpOccsByInstance(ctx context.Context, vnfInstanceID string) ([]*models.LcmOpOcc, error) {
	return r.listOccSet(ctx, opOccInstanceIdxPrefix+vnfInstanceID)
}

// ListPendingOpOccs retrieves every non-terminal occurrence.
func (r *RedisStore) ListPendingOpOccs(ctx context.Context) ([]*models.LcmOpOcc, error) {
	return r.listOccSet(ctx, opOccPendingSetKey)
}

func (r *RedisStore) listOccSet(ctx context.Context, setKey string) ([]*models.LcmOpOcc, error) {
	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list occurrence IDs: %w", err)
	}

	out := make([]*models.LcmOpOcc, 0, len(ids))
	for _, id := range ids {
		occ, err := r.GetOpOcc(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, occ)
	}

	return out, nil
}

// Client exposes the underlying Redis client so components that ride the
// same connection, such as the notification stream, can share it.
func (r *RedisStore) Client() redis.UniversalClient {
	return r.client
}

// Ping checks if Redis is available.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// marshalInstance serializes an instance without its task state; the lock
// key is the single source of truth for TaskState.
func marshalInstance(inst *models.VnfInstance) ([]byte, error) {
	c := *inst
	c.TaskState = ""
	data, err := json.Marshal(&c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal instance: %w", err)
	}
	return data, nil
}
