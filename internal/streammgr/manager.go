// Package streammgr implements the authoritative lifecycle of a stream: key
// issuance, pending/live/ended transitions, and cross-worker fan-out of live
// state through the shared key-value store.
package streammgr

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"

	"signalmesh/internal/kv"
	"signalmesh/internal/models"
)

const activeStreamsHash = "active_streams"

// Config controls stream-key TTL and logging for a Manager.
type Config struct {
	Store         kv.Store
	Logger        *slog.Logger
	StreamKeyTTL  time.Duration
}

// Manager is the process-local view of every stream this worker has created,
// mirrored into the shared KV store so sibling workers observe a coherent
// picture of which streams are live.
type Manager struct {
	store  kv.Store
	logger *slog.Logger
	ttl    time.Duration

	group singleflight.Group

	mu      sync.RWMutex
	streams map[string]*models.Stream
}

// New constructs a Manager. Store must not be nil.
func New(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("streammgr: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.StreamKeyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		store:   cfg.Store,
		logger:  logger,
		ttl:     ttl,
		streams: make(map[string]*models.Stream),
	}, nil
}

// CreateStream mints a stream id and stream key, records the stream as
// pending, and writes the key to the shared store with the configured TTL.
// The local record is written first and reverted if the KV write fails, so a
// caller never observes a stream that isn't also backed by a valid key.
func (m *Manager) CreateStream(ctx context.Context, tenantID, userID, title string, metadata map[string]string) (*models.Stream, string, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(userID) == "" {
		return nil, "", ErrInvalidArgument
	}
	streamID, err := generateStreamID()
	if err != nil {
		return nil, "", err
	}
	streamKey, err := generateStreamKey()
	if err != nil {
		return nil, "", err
	}

	stream := &models.Stream{
		ID:       streamID,
		TenantID: tenantID,
		UserID:   userID,
		Status:   models.StreamPending,
		Title:    title,
		Metadata: metadata,
	}

	m.mu.Lock()
	m.streams[streamID] = stream
	m.mu.Unlock()

	if err := m.store.SetEX(ctx, streamKeyKey(tenantID, streamID), streamKey, m.ttl); err != nil {
		m.mu.Lock()
		delete(m.streams, streamID)
		m.mu.Unlock()
		return nil, "", fmt.Errorf("streammgr: persist stream key: %w", err)
	}

	m.logger.Info("stream created", "stream_id", streamID, "tenant_id", tenantID, "user_id", userID)
	return cloneStream(stream), streamKey, nil
}

// ValidateStreamKey performs a constant-time comparison of the provided key
// against the value on record in the KV store. Any failure to read the
// stored key, or an empty candidate, returns false.
func (m *Manager) ValidateStreamKey(ctx context.Context, tenantID, streamID, candidate string) bool {
	if strings.TrimSpace(candidate) == "" {
		return false
	}
	stored, ok, err := m.store.Get(ctx, streamKeyKey(tenantID, streamID))
	if err != nil || !ok {
		return false
	}
	return constantTimeEqual(stored, candidate)
}

// ConnectionFingerprint derives a short, non-secret identifier for a
// remote_addr/user_agent pair, for correlating audit log entries from the
// same client without logging either value directly. It is not a security
// boundary; ValidateStreamKey's constant-time comparison is what guards the
// stream key.
func ConnectionFingerprint(remoteAddr, userAgent string) string {
	sum := blake2b.Sum256([]byte(remoteAddr + "|" + userAgent))
	return hex.EncodeToString(sum[:8])
}

func constantTimeEqual(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	if len(expected) != len(provided) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// StartStream transitions a known pending stream to live, stamps started_at,
// and publishes the record into the shared active_streams hash.
func (m *Manager) StartStream(ctx context.Context, streamID string) (bool, error) {
	m.mu.Lock()
	stream, ok := m.streams[streamID]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if stream.Status != models.StreamPending {
		m.mu.Unlock()
		return false, ErrInvalidTransition
	}
	now := time.Now().UTC()
	stream.Status = models.StreamLive
	stream.StartedAt = &now
	snapshot := cloneStream(stream)
	m.mu.Unlock()

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return false, fmt.Errorf("streammgr: marshal stream: %w", err)
	}
	if err := m.store.HSet(ctx, activeStreamsHash, streamID, string(payload)); err != nil {
		return false, fmt.Errorf("streammgr: publish active stream: %w", err)
	}
	m.logger.Info("stream started", "stream_id", streamID, "tenant_id", snapshot.TenantID)
	return true, nil
}

// EndStream transitions a known stream to ended, stamps ended_at, removes it
// from the active_streams hash, and deletes its stream key.
func (m *Manager) EndStream(ctx context.Context, streamID string) (bool, error) {
	m.mu.Lock()
	stream, ok := m.streams[streamID]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if stream.Status == models.StreamEnded {
		m.mu.Unlock()
		return false, ErrInvalidTransition
	}
	now := time.Now().UTC()
	stream.Status = models.StreamEnded
	stream.EndedAt = &now
	tenantID := stream.TenantID
	m.mu.Unlock()

	if err := m.store.HDel(ctx, activeStreamsHash, streamID); err != nil {
		m.logger.Warn("failed to remove stream from active set", "stream_id", streamID, "error", err)
	}
	if err := m.store.Del(ctx, streamKeyKey(tenantID, streamID)); err != nil {
		m.logger.Warn("failed to delete stream key", "stream_id", streamID, "error", err)
	}
	m.logger.Info("stream ended", "stream_id", streamID, "tenant_id", tenantID)
	return true, nil
}

// GetStream returns the local record for a stream, if any.
func (m *Manager) GetStream(streamID string) (*models.Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stream, ok := m.streams[streamID]
	if !ok {
		return nil, false
	}
	return cloneStream(stream), true
}

// GetLiveStreams returns every locally-known live stream for a tenant.
func (m *Manager) GetLiveStreams(tenantID string) []*models.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Stream
	for _, stream := range m.streams {
		if stream.TenantID == tenantID && stream.Status == models.StreamLive {
			out = append(out, cloneStream(stream))
		}
	}
	return out
}

// GetAllActiveStreams reads the shared active_streams hash, decoding each
// entry. Concurrent callers collapse onto a single KV round-trip via
// singleflight, since this is read on every dashboard poll across every
// worker's request handlers.
func (m *Manager) GetAllActiveStreams(ctx context.Context) ([]*models.Stream, error) {
	v, err, _ := m.group.Do("active_streams", func() (interface{}, error) {
		raw, err := m.store.HGetAll(ctx, activeStreamsHash)
		if err != nil {
			return nil, err
		}
		streams := make([]*models.Stream, 0, len(raw))
		for id, payload := range raw {
			var stream models.Stream
			if err := json.Unmarshal([]byte(payload), &stream); err != nil {
				m.logger.Warn("failed to decode active stream entry", "stream_id", id, "error", err)
				continue
			}
			streams = append(streams, &stream)
		}
		return streams, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*models.Stream), nil
}

// Stats reports the number of locally-tracked streams by status.
func (m *Manager) Stats() map[models.StreamStatus]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[models.StreamStatus]int{
		models.StreamPending: 0,
		models.StreamLive:    0,
		models.StreamEnded:   0,
	}
	for _, stream := range m.streams {
		out[stream.Status]++
	}
	return out
}

func streamKeyKey(tenantID, streamID string) string {
	return fmt.Sprintf("stream_key:%s:%s", tenantID, streamID)
}

func cloneStream(s *models.Stream) *models.Stream {
	clone := *s
	if s.Metadata != nil {
		clone.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		clone.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		clone.EndedAt = &t
	}
	return &clone
}
