// Package dedup records command idempotency keys so a retried command is not applied twice.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a claimed key is remembered.
const DefaultTTL = 24 * time.Hour

// Deduper claims idempotency keys per tenant.
type Deduper interface {
	// Claim records the key and reports true when it was not seen before.
	Claim(ctx context.Context, tenantID, key string) (bool, error)
	// Release forgets a key so a failed command may be retried.
	Release(ctx context.Context, tenantID, key string) error
}

func scopedKey(tenantID, key string) string {
	return fmt.Sprintf("lotus:idem:%s:%s", tenantID, key)
}

// Redis shares claimed keys between server instances.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedis creates a deduper on client; a non-positive ttl means DefaultTTL.
func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Claim sets the key only if it is absent.
func (r *Redis) Claim(ctx context.Context, tenantID, key string) (bool, error) {
	return r.client.SetNX(ctx, scopedKey(tenantID, key), 1, r.ttl).Result()
}

// Release deletes the key.
func (r *Redis) Release(ctx context.Context, tenantID, key string) error {
	return r.client.Del(ctx, scopedKey(tenantID, key)).Err()
}

// Memory is a process-local Deduper.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	keys map[string]time.Time
}

// NewMemory creates an in-process deduper; a non-positive ttl means DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, now: time.Now, keys: make(map[string]time.Time)}
}

// Claim records the key unless an unexpired claim exists.
func (m *Memory) Claim(_ context.Context, tenantID, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := scopedKey(tenantID, key)
	now := m.now()
	if exp, ok := m.keys[k]; ok && now.Before(exp) {
		return false, nil
	}
	m.keys[k] = now.Add(m.ttl)
	return true, nil
}

// Release forgets the key.
func (m *Memory) Release(_ context.Context, tenantID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, scopedKey(tenantID, key))
	return nil
}
