// Package cache holds the query result caches of the location server.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a byte cache with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Reset(ctx context.Context) error
}

// Remember returns the cached value for key, or computes it with fn and
// stores it for ttl. Errors from the store itself are not fatal: the value
// is computed and returned anyway.
func Remember[T any](ctx context.Context, s Store, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, bool, error) {
	if data, err := s.Get(ctx, key); err == nil {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return v, true, nil
		}
	}

	v, err := fn(ctx)
	if err != nil {
		return v, false, err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v, false, fmt.Errorf("encoding cache entry %q: %w", key, err)
	}
	_ = s.Set(ctx, key, data, ttl)
	return v, false, nil
}
