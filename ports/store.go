package ports

import (
	"context"
	"time"
)

// Store is a TTL key/value store backing per-session state
type Store interface {
	// Set stores value under key for ttl, overwriting any previous value
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns core.ErrNotFound when the key is missing or expired
	Get(ctx context.Context, key string) ([]byte, error)
	// GetDel returns and removes key in one step; of concurrent callers at most one gets the value
	GetDel(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}
