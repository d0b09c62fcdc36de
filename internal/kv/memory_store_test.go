package kv

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreStringRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	if err := store.SetEX(ctx, "k", "v", 0); err != nil {
		t.Fatalf("setex: %v", err)
	}
	val, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("expected hit v, got val=%q ok=%v err=%v", val, ok, err)
	}

	if err := store.Del(ctx, "k"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected key removed after del")
	}
}

func TestMemoryStoreSetEXExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.SetEX(ctx, "k", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("setex: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("expected key to have expired")
	}
}

func TestMemoryStoreSetNX(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ok, err := store.SetNX(ctx, "slow:u1", "1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first setnx to succeed, got ok=%v err=%v", ok, err)
	}
	ok, err = store.SetNX(ctx, "slow:u1", "1", time.Minute)
	if err != nil || ok {
		t.Fatalf("expected second setnx to fail, got ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreHash(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.HSet(ctx, "active_streams", "s1", `{"id":"s1"}`); err != nil {
		t.Fatalf("hset: %v", err)
	}
	if err := store.HSet(ctx, "active_streams", "s2", `{"id":"s2"}`); err != nil {
		t.Fatalf("hset: %v", err)
	}
	all, err := store.HGetAll(ctx, "active_streams")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d err=%v", len(all), err)
	}
	if err := store.HDel(ctx, "active_streams", "s1"); err != nil {
		t.Fatalf("hdel: %v", err)
	}
	all, _ = store.HGetAll(ctx, "active_streams")
	if len(all) != 1 {
		t.Fatalf("expected 1 entry after hdel, got %d", len(all))
	}
}

func TestMemoryStoreSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.SAdd(ctx, "chat_ban:t1:s1", "u1"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	isMember, err := store.SIsMember(ctx, "chat_ban:t1:s1", "u1")
	if err != nil || !isMember {
		t.Fatalf("expected membership, got %v err=%v", isMember, err)
	}
	if err := store.SRem(ctx, "chat_ban:t1:s1", "u1"); err != nil {
		t.Fatalf("srem: %v", err)
	}
	isMember, _ = store.SIsMember(ctx, "chat_ban:t1:s1", "u1")
	if isMember {
		t.Fatal("expected membership removed")
	}
}

func TestMemoryStoreSortedSetWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	now := float64(time.Now().Unix())
	if err := store.ZAdd(ctx, "viewers:t1:s1", now, "v1"); err != nil {
		t.Fatalf("zadd: %v", err)
	}
	if err := store.ZAdd(ctx, "viewers:t1:s1", now-60, "v2"); err != nil {
		t.Fatalf("zadd: %v", err)
	}
	if err := store.ZRemRangeByScore(ctx, "viewers:t1:s1", 0, now-30); err != nil {
		t.Fatalf("zremrangebyscore: %v", err)
	}
	card, err := store.ZCard(ctx, "viewers:t1:s1")
	if err != nil || card != 1 {
		t.Fatalf("expected 1 surviving member, got %d err=%v", card, err)
	}
	members, err := store.ZRange(ctx, "viewers:t1:s1", 0, now+1)
	if err != nil || len(members) != 1 || members[0] != "v1" {
		t.Fatalf("expected [v1], got %v err=%v", members, err)
	}
}

func TestMemoryStoreZRangeIsAscendingByScore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.ZAdd(ctx, "z1", 30, "third"); err != nil {
		t.Fatalf("zadd: %v", err)
	}
	if err := store.ZAdd(ctx, "z1", 10, "first"); err != nil {
		t.Fatalf("zadd: %v", err)
	}
	if err := store.ZAdd(ctx, "z1", 20, "second"); err != nil {
		t.Fatalf("zadd: %v", err)
	}

	members, err := store.ZRange(ctx, "z1", 0, 100)
	if err != nil {
		t.Fatalf("zrange: %v", err)
	}
	want := []string{"first", "second", "third"}
	if len(members) != len(want) {
		t.Fatalf("expected %v, got %v", want, members)
	}
	for i, m := range members {
		if m != want[i] {
			t.Fatalf("expected %v, got %v", want, members)
		}
	}
}
