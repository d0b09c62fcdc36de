// Package kv declares the narrow key-value capability this orchestrator's
// components depend on, and provides a Redis-backed implementation plus an
// in-process fake for tests. No component holds a concrete *redis.Client;
// every one of them is constructed against the Store interface so a worker
// can run against a real cluster in production and an in-memory fake under
// test without any conditional wiring.
package kv

import (
	"context"
	"time"
)

// Store is the capability surface every KV-backed component depends on. It
// intentionally exposes Redis-shaped primitives rather than a generic
// key/value Get/Set pair, because the invariants in the data model (sorted
// set membership with score-based expiry, set-if-absent slow-mode tokens,
// hash-based active-stream fan-out) need those primitives directly.
type Store interface {
	// SetEX stores value under key with an expiry. ttl <= 0 means no expiry.
	SetEX(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns the value and whether the key existed.
	Get(ctx context.Context, key string) (string, bool, error)
	// Del removes a key. It is not an error for the key to be absent.
	Del(ctx context.Context, key string) error
	// SetNX stores value under key only if the key does not already exist,
	// returning whether the write happened.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// HSet sets a single field within a hash.
	HSet(ctx context.Context, hash, field, value string) error
	// HDel removes a single field from a hash.
	HDel(ctx context.Context, hash, field string) error
	// HGetAll returns every field/value pair in a hash.
	HGetAll(ctx context.Context, hash string) (map[string]string, error)

	// SAdd adds a member to a set.
	SAdd(ctx context.Context, key, member string) error
	// SRem removes a member from a set.
	SRem(ctx context.Context, key, member string) error
	// SMembers returns every member of a set.
	SMembers(ctx context.Context, key string) ([]string, error)
	// SIsMember reports set membership.
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// ZAdd sets a member's score in a sorted set, inserting it if absent.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRem removes a member from a sorted set.
	ZRem(ctx context.Context, key, member string) error
	// ZRemRangeByScore removes every member with score in [min, max].
	ZRemRangeByScore(ctx context.Context, key string, min, max float64) error
	// ZCard reports the cardinality of a sorted set.
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRange returns members with score in [min, max], ascending.
	ZRange(ctx context.Context, key string, min, max float64) ([]string, error)

	// Close releases any underlying connection resources.
	Close() error
}
