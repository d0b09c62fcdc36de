package kv

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore is an in-process Store used by unit tests so packages that
// depend on kv.Store never need a live Redis to exercise their logic. It
// implements expiry the same way Redis does: lazily, on read.
type memoryStore struct {
	mu      sync.Mutex
	strings map[string]stringEntry
	hashes  map[string]map[string]string
	sets    map[string]map[string]struct{}
	zsets   map[string]map[string]float64
	expires map[string]time.Time
}

type stringEntry struct {
	value string
}

// NewMemoryStore returns a Store backed entirely by in-process maps.
func NewMemoryStore() Store {
	return &memoryStore{
		strings: make(map[string]stringEntry),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]struct{}),
		zsets:   make(map[string]map[string]float64),
		expires: make(map[string]time.Time),
	}
}

func (m *memoryStore) expiredLocked(key string) bool {
	deadline, ok := m.expires[key]
	if !ok {
		return false
	}
	if time.Now().After(deadline) {
		delete(m.strings, key)
		delete(m.hashes, key)
		delete(m.sets, key)
		delete(m.zsets, key)
		delete(m.expires, key)
		return true
	}
	return false
}

func (m *memoryStore) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings[key] = stringEntry{value: value}
	m.setExpiryLocked(key, ttl)
	return nil
}

func (m *memoryStore) setExpiryLocked(key string, ttl time.Duration) {
	if ttl <= 0 {
		delete(m.expires, key)
		return
	}
	m.expires[key] = time.Now().Add(ttl)
}

func (m *memoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiredLocked(key) {
		return "", false, nil
	}
	entry, ok := m.strings[key]
	if !ok {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (m *memoryStore) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strings, key)
	delete(m.hashes, key)
	delete(m.sets, key)
	delete(m.zsets, key)
	delete(m.expires, key)
	return nil
}

func (m *memoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	if _, exists := m.strings[key]; exists {
		return false, nil
	}
	m.strings[key] = stringEntry{value: value}
	m.setExpiryLocked(key, ttl)
	return true, nil
}

func (m *memoryStore) HSet(_ context.Context, hash, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(hash)
	if m.hashes[hash] == nil {
		m.hashes[hash] = make(map[string]string)
	}
	m.hashes[hash][field] = value
	return nil
}

func (m *memoryStore) HDel(_ context.Context, hash, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if fields, ok := m.hashes[hash]; ok {
		delete(fields, field)
		if len(fields) == 0 {
			delete(m.hashes, hash)
		}
	}
	return nil
}

func (m *memoryStore) HGetAll(_ context.Context, hash string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiredLocked(hash) {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(m.hashes[hash]))
	for k, v := range m.hashes[hash] {
		out[k] = v
	}
	return out, nil
}

func (m *memoryStore) SAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	if m.sets[key] == nil {
		m.sets[key] = make(map[string]struct{})
	}
	m.sets[key][member] = struct{}{}
	return nil
}

func (m *memoryStore) SRem(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if members, ok := m.sets[key]; ok {
		delete(members, member)
		if len(members) == 0 {
			delete(m.sets, key)
		}
	}
	return nil
}

func (m *memoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiredLocked(key) {
		return nil, nil
	}
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	return out, nil
}

func (m *memoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiredLocked(key) {
		return false, nil
	}
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *memoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setExpiryLocked(key, ttl)
	return nil
}

func (m *memoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiredLocked(key)
	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
	return nil
}

func (m *memoryStore) ZRem(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if members, ok := m.zsets[key]; ok {
		delete(members, member)
		if len(members) == 0 {
			delete(m.zsets, key)
		}
	}
	return nil
}

func (m *memoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	members, ok := m.zsets[key]
	if !ok {
		return nil
	}
	for member, score := range members {
		if score >= min && score <= max {
			delete(members, member)
		}
	}
	if len(members) == 0 {
		delete(m.zsets, key)
	}
	return nil
}

func (m *memoryStore) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiredLocked(key) {
		return 0, nil
	}
	return int64(len(m.zsets[key])), nil
}

func (m *memoryStore) ZRange(_ context.Context, key string, min, max float64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.expiredLocked(key) {
		return nil, nil
	}
	type scored struct {
		member string
		score  float64
	}
	matches := make([]scored, 0, len(m.zsets[key]))
	for member, score := range m.zsets[key] {
		if score >= min && score <= max {
			matches = append(matches, scored{member: member, score: score})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score < matches[j].score })
	out := make([]string, len(matches))
	for i, s := range matches {
		out[i] = s.member
	}
	return out, nil
}

func (m *memoryStore) Close() error {
	return nil
}
