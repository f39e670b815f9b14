package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// allocatedCPUsKey is the fast-store counter mirroring the sum of
// allocated rows in the authoritative store.
const allocatedCPUsKey = "resource:allocated_cpus"

// decrementFloored decrements the counter and clamps it at zero in one
// atomic step. A release arriving after a sync already absorbed it must
// not drive the counter negative.
var decrementFloored = redis.NewScript(`
local v = redis.call('DECRBY', KEYS[1], ARGV[1])
if v < 0 then
	redis.call('SET', KEYS[1], 0)
	return 0
end
return v
`)

// Cache is the fast-store view of the allocated-cpus counter. It is a
// performance layer only; the authoritative value is the SUM over
// allocated rows, and the periodic sync overwrites whatever is here.
type Cache struct {
	client *redis.Client
}

// NewCache creates a cache over the given fast-store client
func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// AllocatedCPUs reads the counter. The second return is false on a
// cache miss, which callers treat as "ask the authoritative store".
func (c *Cache) AllocatedCPUs(ctx context.Context) (int, bool, error) {
	val, err := c.client.Get(ctx, allocatedCPUsKey).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read allocated-cpus counter: %w", err)
	}
	return val, true, nil
}

// SetAllocatedCPUs overwrites the counter
func (c *Cache) SetAllocatedCPUs(ctx context.Context, cpus int) error {
	if err := c.client.Set(ctx, allocatedCPUsKey, cpus, 0).Err(); err != nil {
		return fmt.Errorf("failed to set allocated-cpus counter: %w", err)
	}
	return nil
}

// Increment adds cpus to the counter and returns the new value
func (c *Cache) Increment(ctx context.Context, cpus int) (int, error) {
	val, err := c.client.IncrBy(ctx, allocatedCPUsKey, int64(cpus)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment allocated-cpus counter: %w", err)
	}
	return int(val), nil
}

// Decrement subtracts cpus from the counter, floored at zero, and
// returns the new value.
func (c *Cache) Decrement(ctx context.Context, cpus int) (int, error) {
	val, err := decrementFloored.Run(ctx, c.client, []string{allocatedCPUsKey}, cpus).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement allocated-cpus counter: %w", err)
	}
	return val, nil
}

// Clear deletes the counter, forcing the next read to fall through to
// the authoritative store.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.client.Del(ctx, allocatedCPUsKey).Err(); err != nil {
		return fmt.Errorf("failed to clear allocated-cpus counter: %w", err)
	}
	return nil
}
