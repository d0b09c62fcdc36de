// Package chatmod implements per-tenant-stream chat moderation (C2):
// message admission (length, ban, filter, slow-mode) and the moderation
// actions — ban, timeout, report — that sit on top of it.
package chatmod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"signalmesh/internal/kv"
)

const (
	defaultMaxMessageLength = 500
)

// Reason enumerates why a message was rejected by Validate.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonTooLong      Reason = "message too long"
	ReasonEmpty        Reason = "message empty"
	ReasonBanned       Reason = "You are banned from this chat"
	ReasonFiltered     Reason = "message contains filtered content"
	ReasonSlowMode     Reason = "Slow mode: must wait before sending another message"
)

// Config controls message-length and slow-mode defaults for a Moderator.
type Config struct {
	Store            kv.Store
	Logger           *slog.Logger
	MaxMessageLength int
	SlowModeSeconds  int
	Sink             Sink
}

// Moderator enforces chat admission rules and exposes moderation actions,
// all scoped per tenant+stream and backed by the shared KV store so state is
// observable across every worker.
type Moderator struct {
	store            kv.Store
	logger           *slog.Logger
	maxMessageLength int
	slowModeSeconds  int
	caser            cases.Caser
	sink             Sink
}

// New constructs a Moderator. Store must not be nil.
func New(cfg Config) (*Moderator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("chatmod: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxLen := cfg.MaxMessageLength
	if maxLen <= 0 {
		maxLen = defaultMaxMessageLength
	}
	return &Moderator{
		store:            cfg.Store,
		logger:           logger,
		maxMessageLength: maxLen,
		slowModeSeconds:  cfg.SlowModeSeconds,
		caser:            cases.Fold(),
		sink:             cfg.Sink,
	}, nil
}

// Validate checks an inbound chat message against length, ban, filter, and
// slow-mode rules in that order. The first failure wins.
func (m *Moderator) Validate(ctx context.Context, tenantID, streamID, userID, message string) (bool, Reason) {
	trimmed := strings.TrimSpace(message)
	if len(message) > m.maxMessageLength {
		return false, ReasonTooLong
	}
	if trimmed == "" {
		return false, ReasonEmpty
	}

	banned, err := m.store.SIsMember(ctx, banKey(tenantID, streamID), userID)
	if err != nil {
		m.logger.Warn("failed to check ban set", "error", err)
	} else if banned {
		return false, ReasonBanned
	}

	filtered, err := m.store.SMembers(ctx, filterKey(tenantID, streamID))
	if err != nil {
		m.logger.Warn("failed to read filter set", "error", err)
	} else {
		folded := m.caser.String(trimmed)
		for _, term := range filtered {
			if term == "" {
				continue
			}
			if strings.Contains(folded, m.caser.String(term)) {
				return false, ReasonFiltered
			}
		}
	}

	if m.slowModeSeconds > 0 {
		acquired, err := m.store.SetNX(ctx, slowModeKey(tenantID, streamID, userID), "1", time.Duration(m.slowModeSeconds)*time.Second)
		if err != nil {
			m.logger.Warn("failed to acquire slow-mode token", "error", err)
		} else if !acquired {
			return false, ReasonSlowMode
		}
	}

	return true, ReasonNone
}

// Ban adds target to the stream's ban set, optionally expiring after ttl (0
// means permanent until explicitly Unbanned).
func (m *Moderator) Ban(ctx context.Context, tenantID, streamID, actor, target, reason string, ttl time.Duration) error {
	if strings.TrimSpace(actor) == "" || strings.TrimSpace(target) == "" {
		return fmt.Errorf("chatmod: actor and target are required")
	}
	if actor == target {
		return fmt.Errorf("chatmod: cannot ban self")
	}
	key := banKey(tenantID, streamID)
	if err := m.store.SAdd(ctx, key, target); err != nil {
		return fmt.Errorf("chatmod: ban: %w", err)
	}
	if ttl > 0 {
		if err := m.store.Expire(ctx, key, ttl); err != nil {
			m.logger.Warn("failed to set ban set ttl", "error", err)
		}
	}
	m.logger.Info("chat ban issued", "tenant_id", tenantID, "stream_id", streamID, "actor", actor, "target", target, "reason", reason)
	return nil
}

// Unban removes target from the stream's ban set.
func (m *Moderator) Unban(ctx context.Context, tenantID, streamID, actor, target string) error {
	if strings.TrimSpace(actor) == "" || strings.TrimSpace(target) == "" {
		return fmt.Errorf("chatmod: actor and target are required")
	}
	if err := m.store.SRem(ctx, banKey(tenantID, streamID), target); err != nil {
		return fmt.Errorf("chatmod: unban: %w", err)
	}
	m.logger.Info("chat ban lifted", "tenant_id", tenantID, "stream_id", streamID, "actor", actor, "target", target)
	return nil
}

// Timeout silences target for duration, backed by a KV key whose TTL equals
// the remaining timeout.
func (m *Moderator) Timeout(ctx context.Context, tenantID, streamID, actor, target, reason string, duration time.Duration) error {
	if strings.TrimSpace(actor) == "" || strings.TrimSpace(target) == "" {
		return fmt.Errorf("chatmod: actor and target are required")
	}
	if duration <= 0 {
		return fmt.Errorf("chatmod: duration must be positive")
	}
	if _, err := m.store.SetNX(ctx, timeoutKey(tenantID, streamID, target), reason, duration); err != nil {
		return fmt.Errorf("chatmod: timeout: %w", err)
	}
	m.logger.Info("chat timeout issued", "tenant_id", tenantID, "stream_id", streamID, "actor", actor, "target", target, "duration", duration)
	return nil
}

// RemoveTimeout lifts an active timeout on target, if any.
func (m *Moderator) RemoveTimeout(ctx context.Context, tenantID, streamID, actor, target string) error {
	if strings.TrimSpace(actor) == "" || strings.TrimSpace(target) == "" {
		return fmt.Errorf("chatmod: actor and target are required")
	}
	if err := m.store.Del(ctx, timeoutKey(tenantID, streamID, target)); err != nil {
		return fmt.Errorf("chatmod: remove timeout: %w", err)
	}
	m.logger.Info("chat timeout lifted", "tenant_id", tenantID, "stream_id", streamID, "actor", actor, "target", target)
	return nil
}

// IsTimedOut reports whether target currently has an active timeout.
func (m *Moderator) IsTimedOut(ctx context.Context, tenantID, streamID, target string) bool {
	_, ok, err := m.store.Get(ctx, timeoutKey(tenantID, streamID, target))
	if err != nil {
		m.logger.Warn("failed to check timeout", "error", err)
		return false
	}
	return ok
}

// AddFilterTerm adds a case-folded substring to the stream's filter set.
func (m *Moderator) AddFilterTerm(ctx context.Context, tenantID, streamID, term string) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return fmt.Errorf("chatmod: filter term must not be empty")
	}
	return m.store.SAdd(ctx, filterKey(tenantID, streamID), m.caser.String(term))
}

// RemoveFilterTerm removes a term from the stream's filter set.
func (m *Moderator) RemoveFilterTerm(ctx context.Context, tenantID, streamID, term string) error {
	return m.store.SRem(ctx, filterKey(tenantID, streamID), m.caser.String(strings.TrimSpace(term)))
}

func banKey(tenantID, streamID string) string {
	return fmt.Sprintf("chat_ban:%s:%s", tenantID, streamID)
}

func filterKey(tenantID, streamID string) string {
	return fmt.Sprintf("chat_filter:%s:%s", tenantID, streamID)
}

func slowModeKey(tenantID, streamID, userID string) string {
	return fmt.Sprintf("chat_slow:%s:%s:%s", tenantID, streamID, userID)
}

func timeoutKey(tenantID, streamID, userID string) string {
	return fmt.Sprintf("chat_timeout:%s:%s:%s", tenantID, streamID, userID)
}
