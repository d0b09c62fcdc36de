// Package models holds the data-transfer types shared across the orchestrator's
// components. None of these types are persisted by this module; they describe
// the shapes exchanged between components and over the wire.
package models

import "time"

// StreamStatus enumerates the lifecycle states of a Stream. Transitions only
// ever advance: Pending -> Live -> Ended.
type StreamStatus string

const (
	StreamPending StreamStatus = "pending"
	StreamLive    StreamStatus = "live"
	StreamEnded   StreamStatus = "ended"
)

// Stream is the authoritative record of a single broadcast owned by the
// stream manager. StreamKey is never present in any JSON view served to a
// viewer; it is only attached to responses returned to the owning
// broadcaster at creation time.
type Stream struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenantId"`
	UserID    string                 `json:"userId"`
	StreamKey string                 `json:"streamKey,omitempty"`
	Status    StreamStatus           `json:"status"`
	Title     string                 `json:"title"`
	StartedAt *time.Time             `json:"startedAt,omitempty"`
	EndedAt   *time.Time             `json:"endedAt,omitempty"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// ChatMessage is a single chat line admitted by the moderator.
type ChatMessage struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	StreamID  string    `json:"streamId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChatReport is a viewer-submitted complaint against another user's message.
type ChatReport struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	StreamID    string    `json:"streamId"`
	ReporterID  string    `json:"reporterId"`
	TargetID    string    `json:"targetId"`
	Reason      string    `json:"reason"`
	MessageID   string    `json:"messageId,omitempty"`
	EvidenceURL string    `json:"evidenceUrl,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Report statuses.
const (
	ReportStatusOpen     = "open"
	ReportStatusResolved = "resolved"
	ReportStatusDismissed = "dismissed"
)

// ChatRestriction describes an active ban or timeout against a user within a
// tenant's stream, including the acting moderator and reason for audit.
type ChatRestriction struct {
	Type      string     `json:"type"` // "ban" or "timeout"
	TenantID  string     `json:"tenantId"`
	StreamID  string     `json:"streamId"`
	TargetID  string     `json:"targetId"`
	ActorID   string     `json:"actorId,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}
