// Package cache provides the keyed TTL cache backing JTI replay
// protection for client assertions and DPoP proofs.
package cache

import (
	"context"
	"time"
)

// Cache is a keyed TTL cache with an atomic add-if-absent primitive.
type Cache interface {
	// Add stores key with the given TTL only if it is not already
	// present. It returns true when the key was newly added and false
	// when the key already existed - a false return on a replay key
	// means the value was seen before within its TTL window.
	Add(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Exists reports whether the key is currently present.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies the cache backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
