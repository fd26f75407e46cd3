// Package cache provides the key-value store contract the request
// pipeline depends on, plus thread-safe in-memory implementations.
//
// Two implementations ship with the server:
//   - LRU: size-bounded, least-recently-used eviction
//   - TTL: time-bounded, background expiry sweep
//
// Both support optional Prometheus instrumentation via functional
// options. External stores (Redis, memcached, ...) can be plugged in by
// satisfying KeyValue.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidKey is returned when an empty key is used.
var ErrInvalidKey = errors.New("cache: invalid key")

// KeyValue is the read/write contract used by the pipeline. The
// pipeline treats read failures as misses and write failures as
// log-only events; implementations are free to return errors for
// transient backend faults.
type KeyValue[V any] interface {
	// Get retrieves the value stored under key.
	Get(ctx context.Context, key string) (V, bool, error)

	// Set stores value under key. A non-zero ttl bounds the entry's
	// lifetime; zero means the implementation's default policy.
	Set(ctx context.Context, key string, value V, ttl time.Duration) error

	// Delete removes key, reporting whether it was present.
	Delete(ctx context.Context, key string) (bool, error)
}

func validateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return nil
}
