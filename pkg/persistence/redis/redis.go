package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Layr-Labs/merkle-redeem-go/pkg/persistence"
	"github.com/Layr-Labs/merkle-redeem-go/pkg/types"
)

// Key prefixes for namespacing in Redis
const (
	keyPrefixAllocation  = "redeem:allocation:"
	keyPrefixClaim       = "redeem:claim:"
	keyOwner             = "redeem:owner:current"
	keySchemaVersion     = "redeem:metadata:schema_version"
	currentSchemaVersion = "v1"

	// Redis has no prefix iteration, so seeded epochs are tracked in a set
	keySetAllocations = "redeem:allocations:index"

	operationTimeout = 5 * time.Second
)

// RedisPersistence stores the ledger in Redis for deployments that run the
// server without a local disk. Write-once allocations and all-or-nothing claim
// flags use WATCH/MULTI optimistic transactions.
type RedisPersistence struct {
	client    *redis.Client
	logger    *zap.Logger
	keyPrefix string
	mu        sync.RWMutex
	closed    bool
}

// RedisConfig holds the configuration for connecting to Redis
type RedisConfig struct {
	// Address is the Redis server address (host:port)
	Address string
	// Password is the optional Redis password
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to every key, e.g. "mainnet:" gives "mainnet:redeem:claim:...".
	KeyPrefix string
}

// NewRedisPersistence connects to Redis and validates the schema version.
func NewRedisPersistence(cfg *RedisConfig, logger *zap.Logger) (*RedisPersistence, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}

	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	rp := &RedisPersistence{
		client:    client,
		logger:    logger,
		keyPrefix: cfg.KeyPrefix,
	}

	if err := rp.initSchema(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Sugar().Infow("Redis persistence initialized",
		"address", cfg.Address,
		"db", cfg.DB,
		"key_prefix", cfg.KeyPrefix,
	)

	return rp, nil
}

func (r *RedisPersistence) prefixKey(key string) string {
	return r.keyPrefix + key
}

func (r *RedisPersistence) allocationKey(epoch uint64) string {
	return r.prefixKey(keyPrefixAllocation + persistence.EpochKey(epoch))
}

func (r *RedisPersistence) claimKey(k types.ClaimKey) string {
	return r.prefixKey(keyPrefixClaim + persistence.ClaimKeyString(k.Epoch, k.Recipient))
}

func (r *RedisPersistence) initSchema(ctx context.Context) error {
	schemaKey := r.prefixKey(keySchemaVersion)

	// SETNX so two servers starting together agree on the version
	if _, err := r.client.SetNX(ctx, schemaKey, currentSchemaVersion, 0).Result(); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}

	existingVersion, err := r.client.Get(ctx, schemaKey).Result()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if existingVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
	}

	return nil
}

// SaveEpochAllocation stores a new allocation and indexes its epoch.
func (r *RedisPersistence) SaveEpochAllocation(allocation *types.EpochAllocation) error {
	if allocation == nil {
		return fmt.Errorf("cannot save nil EpochAllocation")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	data, err := persistence.MarshalEpochAllocation(allocation)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	key := r.allocationKey(allocation.Epoch)
	indexKey := r.prefixKey(keySetAllocations)

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("%w: %d", persistence.ErrAllocationExists, allocation.Epoch)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, indexKey, allocation.Epoch)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %d", persistence.ErrAllocationExists, allocation.Epoch)
	}
	if err != nil && !errors.Is(err, persistence.ErrAllocationExists) {
		return fmt.Errorf("failed to save EpochAllocation: %w", err)
	}
	return err
}

// LoadEpochAllocation retrieves an allocation by epoch.
func (r *RedisPersistence) LoadEpochAllocation(epoch uint64) (*types.EpochAllocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.allocationKey(epoch)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil // Not found is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load EpochAllocation: %w", err)
	}

	return persistence.UnmarshalEpochAllocation(data)
}

// ListEpochAllocations returns all allocations sorted by epoch.
func (r *RedisPersistence) ListEpochAllocations() ([]*types.EpochAllocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	indexKey := r.prefixKey(keySetAllocations)

	members, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list allocation epochs: %w", err)
	}

	allocations := make([]*types.EpochAllocation, 0, len(members))
	if len(members) == 0 {
		return allocations, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		epoch, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			r.logger.Sugar().Warnw("Invalid epoch in allocation index, skipping", "member", m, "error", err)
			continue
		}
		keys = append(keys, r.allocationKey(epoch))
	}
	if len(keys) == 0 {
		return allocations, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch EpochAllocations: %w", err)
	}

	for i, val := range values {
		if val == nil {
			r.logger.Sugar().Warnw("Allocation indexed but missing", "key", keys[i])
			continue
		}

		data, ok := val.(string)
		if !ok {
			r.logger.Sugar().Warnw("Unexpected value type for EpochAllocation", "key", keys[i])
			continue
		}

		allocation, err := persistence.UnmarshalEpochAllocation([]byte(data))
		if err != nil {
			r.logger.Sugar().Warnw("Failed to unmarshal EpochAllocation, skipping",
				"key", keys[i], "error", err)
			continue
		}
		allocations = append(allocations, allocation)
	}

	// Sort by epoch (ascending)
	sort.Slice(allocations, func(i, j int) bool {
		return allocations[i].Epoch < allocations[j].Epoch
	})

	return allocations, nil
}

// IsClaimed reports whether a claim record is set.
func (r *RedisPersistence) IsClaimed(epoch uint64, recipient common.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	n, err := r.client.Exists(ctx, r.claimKey(types.ClaimKey{Epoch: epoch, Recipient: recipient})).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read claim record: %w", err)
	}
	return n > 0, nil
}

// MarkClaimed sets every record in one MULTI/EXEC guarded by WATCH on all keys.
func (r *RedisPersistence) MarkClaimed(keys []types.ClaimKey) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	if persistence.HasDuplicateClaimKeys(keys) {
		return fmt.Errorf("%w: duplicate key in request", persistence.ErrClaimExists)
	}
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = r.claimKey(k)
	}

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, redisKeys...).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %d of %d records already set", persistence.ErrClaimExists, n, len(keys))
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range redisKeys {
				pipe.Set(ctx, key, 1, 0)
			}
			return nil
		})
		return err
	}, redisKeys...)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent claim", persistence.ErrClaimExists)
	}
	if err != nil && !errors.Is(err, persistence.ErrClaimExists) {
		return fmt.Errorf("failed to mark claimed: %w", err)
	}
	return err
}

// UnmarkClaimed clears records.
func (r *RedisPersistence) UnmarkClaimed(keys []types.ClaimKey) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = r.claimKey(k)
	}

	if err := r.client.Del(ctx, redisKeys...).Err(); err != nil {
		return fmt.Errorf("failed to unmark claimed: %w", err)
	}
	return nil
}

// SetOwner stores the administrator address.
func (r *RedisPersistence) SetOwner(owner common.Address) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	return r.client.Set(ctx, r.prefixKey(keyOwner), owner.Hex(), 0).Err()
}

// GetOwner returns the administrator address.
func (r *RedisPersistence) GetOwner() (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return common.Address{}, persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, r.prefixKey(keyOwner)).Result()
	if errors.Is(err, redis.Nil) {
		return common.Address{}, nil
	}
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to get owner: %w", err)
	}
	if !common.IsHexAddress(val) {
		return common.Address{}, fmt.Errorf("invalid owner value: %q", val)
	}
	return common.HexToAddress(val), nil
}

// Close shuts down the persistence layer
func (r *RedisPersistence) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if err := r.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	r.logger.Sugar().Info("Redis persistence closed")
	return nil
}

// HealthCheck pings Redis and confirms the schema key is present.
func (r *RedisPersistence) HealthCheck() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return persistence.ErrClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	exists, err := r.client.Exists(ctx, r.prefixKey(keySchemaVersion)).Result()
	if err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("schema version not found - database may have been flushed")
	}

	return nil
}
