package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry maps a caller-supplied identity to the room claimed for it, so
// repeated create requests for the same identity converge on one room even
// across API processes.
type Registry interface {
	// Claim records identity -> roomName if no claim exists. It returns the
	// winning room name and whether this call made the claim.
	Claim(ctx context.Context, identity, roomName string, ttl time.Duration) (string, bool, error)

	// Release drops the claim for identity. Safe to call when absent.
	Release(ctx context.Context, identity string) error
}

const registryKeyPrefix = "callbridge:room:"

// RedisRegistry is the production Registry; SET NX makes claims atomic
// across processes and the TTL clears claims from crashed calls.
type RedisRegistry struct {
	rdb *redis.Client
}

func NewRedisRegistry(rdb *redis.Client) *RedisRegistry {
	return &RedisRegistry{rdb: rdb}
}

func (r *RedisRegistry) Claim(ctx context.Context, identity, roomName string, ttl time.Duration) (string, bool, error) {
	key := registryKeyPrefix + identity
	ok, err := r.rdb.SetNX(ctx, key, roomName, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return roomName, true, nil
	}
	existing, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		// Claim expired between SetNX and Get; retry once.
		return r.Claim(ctx, identity, roomName, ttl)
	}
	if err != nil {
		return "", false, err
	}
	return existing, false, nil
}

func (r *RedisRegistry) Release(ctx context.Context, identity string) error {
	return r.rdb.Del(ctx, registryKeyPrefix+identity).Err()
}

// MemoryRegistry is a single-process Registry for tests and local runs.
type MemoryRegistry struct {
	mu     sync.Mutex
	claims map[string]string
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{claims: make(map[string]string)}
}

func (r *MemoryRegistry) Claim(ctx context.Context, identity, roomName string, _ time.Duration) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.claims[identity]; ok {
		return existing, false, nil
	}
	r.claims[identity] = roomName
	return roomName, true, nil
}

func (r *MemoryRegistry) Release(ctx context.Context, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, identity)
	return nil
}
