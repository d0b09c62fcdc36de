package viewers_test

import (
	"context"
	"testing"
	"time"

	"signalmesh/internal/kv"
	"signalmesh/internal/viewers"
)

func newTestTracker(t *testing.T, ttl time.Duration) *viewers.Tracker {
	t.Helper()
	tracker, err := viewers.New(kv.NewMemoryStore(), ttl)
	if err != nil {
		t.Fatalf("new tracker: %v", err)
	}
	return tracker
}

func TestHeartbeatThenCount(t *testing.T) {
	tracker := newTestTracker(t, time.Minute)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "tenant-a", "stream_1", "viewer-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := tracker.Heartbeat(ctx, "tenant-a", "stream_1", "viewer-2"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	count, err := tracker.Count(ctx, "tenant-a", "stream_1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 viewers, got %d", count)
	}
}

func TestGetViewersReturnsMembers(t *testing.T) {
	tracker := newTestTracker(t, time.Minute)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "tenant-a", "stream_1", "viewer-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	members, err := tracker.GetViewers(ctx, "tenant-a", "stream_1")
	if err != nil {
		t.Fatalf("get viewers: %v", err)
	}
	if len(members) != 1 || members[0] != "viewer-1" {
		t.Fatalf("unexpected members: %+v", members)
	}
}

func TestRemoveDropsViewerImmediately(t *testing.T) {
	tracker := newTestTracker(t, time.Minute)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "tenant-a", "stream_1", "viewer-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := tracker.Remove(ctx, "tenant-a", "stream_1", "viewer-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	count, err := tracker.Count(ctx, "tenant-a", "stream_1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 viewers after remove, got %d", count)
	}
}

func TestCountEvictsStaleViewers(t *testing.T) {
	tracker := newTestTracker(t, 10*time.Millisecond)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "tenant-a", "stream_1", "viewer-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	count, err := tracker.Count(ctx, "tenant-a", "stream_1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected stale viewer to be evicted, got count %d", count)
	}
}

func TestClearStreamRemovesAllViewers(t *testing.T) {
	tracker := newTestTracker(t, time.Minute)
	ctx := context.Background()

	if err := tracker.Heartbeat(ctx, "tenant-a", "stream_1", "viewer-1"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if err := tracker.ClearStream(ctx, "tenant-a", "stream_1"); err != nil {
		t.Fatalf("clear stream: %v", err)
	}
	count, err := tracker.Count(ctx, "tenant-a", "stream_1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 viewers after clear, got %d", count)
	}
}
