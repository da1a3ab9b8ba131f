// Package cart talks to the storefront cart kept in Redis.
package cart

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix is the key prefix of cart records.
const DefaultKeyPrefix = "cart:"

// Redis clears carts stored under <prefix><userID>.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a Redis cart on client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// Clear removes the user's cart. Clearing an empty cart is not an error.
func (r *Redis) Clear(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("clearing cart of %q: %w", userID, err)
	}
	return nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) key(userID string) string {
	return r.prefix + userID
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
