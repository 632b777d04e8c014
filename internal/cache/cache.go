// Package cache provides a small in-process TTL cache for single values
// such as bearer tokens and the resolved public IP.
package cache

import (
	"context"
	"sync"
	"time"
)

// RefreshFunc produces a fresh value. A returned ttl of zero falls back to
// the cache's default TTL.
type RefreshFunc func(ctx context.Context) (value string, ttl time.Duration, err error)

// Value caches a single string with a TTL and a pre-expiry refresh buffer.
// Two concurrent refreshes are a benign race: both produce a valid value.
type Value struct {
	defaultTTL time.Duration
	buffer     time.Duration

	mu        sync.Mutex
	val       string
	expiresAt time.Time
}

// NewValue creates a cache. buffer is subtracted from the expiry when
// deciding whether a refresh is due, so values refresh slightly early.
func NewValue(defaultTTL, buffer time.Duration) *Value {
	return &Value{defaultTTL: defaultTTL, buffer: buffer}
}

// GetOrRefresh returns the cached value if still fresh, otherwise calls
// refresh and caches the result.
func (v *Value) GetOrRefresh(ctx context.Context, refresh RefreshFunc) (string, error) {
	v.mu.Lock()
	if v.val != "" && time.Now().Before(v.expiresAt.Add(-v.buffer)) {
		val := v.val
		v.mu.Unlock()
		return val, nil
	}
	v.mu.Unlock()

	val, ttl, err := refresh(ctx)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = v.defaultTTL
	}

	v.mu.Lock()
	v.val = val
	v.expiresAt = time.Now().Add(ttl)
	v.mu.Unlock()

	return val, nil
}

// Set stores a value directly. A ttl of zero uses the default TTL.
func (v *Value) Set(val string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = v.defaultTTL
	}
	v.mu.Lock()
	v.val = val
	v.expiresAt = time.Now().Add(ttl)
	v.mu.Unlock()
}

// Clear drops the cached value so the next GetOrRefresh refreshes
func (v *Value) Clear() {
	v.mu.Lock()
	v.val = ""
	v.expiresAt = time.Time{}
	v.mu.Unlock()
}
