// Package viewers implements viewer presence tracking (C1): a KV sorted set
// per tenant+stream, scored by last-heartbeat time, with lazy eviction of
// stale members.
package viewers

import (
	"context"
	"fmt"
	"math"
	"time"

	"signalmesh/internal/kv"
)

const defaultViewerTTL = 30 * time.Second

// Tracker maintains viewer presence sorted sets.
type Tracker struct {
	store kv.Store
	ttl   time.Duration
}

// New constructs a Tracker. A zero ttl uses the default of 30 seconds.
func New(store kv.Store, ttl time.Duration) (*Tracker, error) {
	if store == nil {
		return nil, fmt.Errorf("viewers: store is required")
	}
	if ttl <= 0 {
		ttl = defaultViewerTTL
	}
	return &Tracker{store: store, ttl: ttl}, nil
}

// Heartbeat upserts viewerID's presence and refreshes the key's TTL to
// 4x the configured viewer TTL, so a single missed refresh cycle never
// drops the whole room's presence key out from under active viewers.
func (t *Tracker) Heartbeat(ctx context.Context, tenantID, streamID, viewerID string) error {
	key := presenceKey(tenantID, streamID)
	now := float64(time.Now().UTC().Unix())
	if err := t.store.ZAdd(ctx, key, now, viewerID); err != nil {
		return fmt.Errorf("viewers: heartbeat: %w", err)
	}
	if err := t.store.Expire(ctx, key, 4*t.ttl); err != nil {
		return fmt.Errorf("viewers: refresh ttl: %w", err)
	}
	return nil
}

// Remove deletes viewerID's presence entry immediately.
func (t *Tracker) Remove(ctx context.Context, tenantID, streamID, viewerID string) error {
	if err := t.store.ZRem(ctx, presenceKey(tenantID, streamID), viewerID); err != nil {
		return fmt.Errorf("viewers: remove: %w", err)
	}
	return nil
}

// Count evicts stale members, then returns the remaining cardinality.
func (t *Tracker) Count(ctx context.Context, tenantID, streamID string) (int64, error) {
	if err := t.evictStale(ctx, tenantID, streamID); err != nil {
		return 0, err
	}
	count, err := t.store.ZCard(ctx, presenceKey(tenantID, streamID))
	if err != nil {
		return 0, fmt.Errorf("viewers: count: %w", err)
	}
	return count, nil
}

// GetViewers evicts stale members, then returns the remaining member ids in
// ascending-score (earliest-heartbeat-first) order.
func (t *Tracker) GetViewers(ctx context.Context, tenantID, streamID string) ([]string, error) {
	if err := t.evictStale(ctx, tenantID, streamID); err != nil {
		return nil, err
	}
	members, err := t.store.ZRange(ctx, presenceKey(tenantID, streamID), 0, math.Inf(1))
	if err != nil {
		return nil, fmt.Errorf("viewers: get viewers: %w", err)
	}
	return members, nil
}

// ClearStream deletes the entire presence set for a stream, used when a
// stream ends.
func (t *Tracker) ClearStream(ctx context.Context, tenantID, streamID string) error {
	if err := t.store.Del(ctx, presenceKey(tenantID, streamID)); err != nil {
		return fmt.Errorf("viewers: clear stream: %w", err)
	}
	return nil
}

func (t *Tracker) evictStale(ctx context.Context, tenantID, streamID string) error {
	// Members whose last heartbeat score is at or before now-ttl are stale.
	// The cutoff keeps sub-second precision so TTLs below one second apply.
	cutoff := float64(time.Now().UTC().Add(-t.ttl).UnixNano()) / 1e9
	if err := t.store.ZRemRangeByScore(ctx, presenceKey(tenantID, streamID), 0, cutoff); err != nil {
		return fmt.Errorf("viewers: evict stale: %w", err)
	}
	return nil
}

func presenceKey(tenantID, streamID string) string {
	return fmt.Sprintf("stream_viewers:%s:%s", tenantID, streamID)
}
