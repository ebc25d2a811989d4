package ports

import (
	"context"
	"time"
)

// Cache is a minimal key-value contract used to decorate slow lookups (the
// premium flag). Implementations should degrade gracefully so callers can
// always fall back to the primary datastore.
type Cache interface {
	// Get returns the raw bytes for key; ok=false when absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value for key with TTL (0 or negative means no expiration).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the key; absence is not an error.
	Delete(ctx context.Context, key string) error
}
