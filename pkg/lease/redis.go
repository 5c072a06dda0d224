package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimScript sets the lease when it is free or already owned by the caller.
// KEYS[1] = lease key
// ARGV[1] = owner
// ARGV[2] = ttl in milliseconds
var claimScript = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current and current ~= ARGV[1] then
    return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

// releaseScript deletes the lease only when the caller owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisClaimer implements Claimer on Redis keys that expire with the lease.
type RedisClaimer struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisClaimer creates a claimer backed by a single Redis server.
func NewRedisClaimer(addr, password string, db int) *RedisClaimer {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisClaimerWithClient(rdb)
}

// NewRedisClaimerWithClient wraps an existing client.
func NewRedisClaimerWithClient(client redis.UniversalClient) *RedisClaimer {
	return &RedisClaimer{client: client, prefix: "governor:lease:", now: time.Now}
}

// Ping checks connectivity.
func (c *RedisClaimer) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (c *RedisClaimer) Close() error {
	return c.client.Close()
}

// Claim acquires or extends the lease on actionID.
func (c *RedisClaimer) Claim(ctx context.Context, actionID, owner string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	res, err := claimScript.Run(ctx, c.client, []string{c.prefix + actionID}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return Lease{}, fmt.Errorf("failed to claim lease: %w", err)
	}
	if res != 1 {
		return Lease{}, fmt.Errorf("action %s: %w", actionID, ErrHeld)
	}

	return Lease{ActionID: actionID, Owner: owner, ExpiresAt: c.now().Add(ttl).UTC()}, nil
}

// Release drops the lease on actionID if owner holds it.
func (c *RedisClaimer) Release(ctx context.Context, actionID, owner string) error {
	res, err := releaseScript.Run(ctx, c.client, []string{c.prefix + actionID}, owner).Int()
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	if res == 0 {
		return fmt.Errorf("action %s: %w", actionID, ErrNotHeld)
	}
	return nil
}
