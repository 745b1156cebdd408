package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/OpsMx/cybersource-auth-client/pkg/types"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when the key cache cannot reach redis
var ErrRedisUnavailable = errors.New("redis unavailable")

// DefaultRedisKeyPrefix namespaces cached keys
const DefaultRedisKeyPrefix = "cybs:pubkey:"

// RedisCache is a Cache shared between processes through redis. Keys are
// stored as their base64 encoded components and expire through redis TTLs.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a RedisCache storing entries under prefix. An
// empty prefix selects DefaultRedisKeyPrefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisCache{
		client: client,
		prefix: prefix,
	}
}

func (c *RedisCache) key(host, kid string) string {
	return c.prefix + host + ":" + kid
}

// Get returns the cached key, or nil if redis holds no entry for it
func (c *RedisCache) Get(ctx context.Context, host, kid string) (*PublicKey, error) {
	data, err := c.client.Get(ctx, c.key(host, kid)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var components types.PublicKeyResponse
	if err := json.Unmarshal(data, &components); err != nil {
		return nil, fmt.Errorf("cached key for %q is corrupt: %w", kid, err)
	}
	key, err := NewPublicKeyFromComponents(kid, components.N, components.E)
	if err != nil {
		return nil, fmt.Errorf("cached key for %q is corrupt: %w", kid, err)
	}
	return key, nil
}

// Set stores a key with the given TTL
func (c *RedisCache) Set(ctx context.Context, host, kid string, key *PublicKey, ttl time.Duration) error {
	n, e := key.Components()
	data, err := json.Marshal(types.PublicKeyResponse{N: n, E: e})
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	if err := c.client.Set(ctx, c.key(host, kid), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
