package chatmod

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"signalmesh/internal/wsconn"
)

type inboundChatFrame struct {
	Type        string `json:"type"`
	Content     string `json:"content,omitempty"`
	TargetID    string `json:"target_id,omitempty"`
	Reason      string `json:"reason,omitempty"`
	DurationSec int    `json:"duration_seconds,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	EvidenceURL string `json:"evidence_url,omitempty"`
}

type outboundChatFrame struct {
	Type      string    `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

type outboundErrorFrame struct {
	Error string `json:"error"`
}

const (
	chatTypeJoin          = "join"
	chatTypeLeave         = "leave"
	chatTypeMessage       = "message"
	chatTypeTimeout       = "timeout"
	chatTypeRemoveTimeout = "remove_timeout"
	chatTypeBan           = "ban"
	chatTypeUnban         = "unban"
	chatTypeReport        = "report"
)

type chatConn struct {
	fd       string
	ws       *wsconn.Conn
	tenantID string
	streamID string
	userID   string
}

// Gateway is the WebSocket transport for chat: presence per tenant+stream
// room, message admission via Moderator, and moderation-action relay.
type Gateway struct {
	moderator *Moderator
	logger    *slog.Logger

	mu    sync.Mutex
	rooms map[string]map[string]*chatConn // "tenant:stream" -> fd -> conn
}

// NewGateway constructs a Gateway bound to moderator.
func NewGateway(moderator *Moderator, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{moderator: moderator, logger: logger, rooms: make(map[string]map[string]*chatConn)}
}

// Serve joins ws into the tenant+stream chat room and processes frames until
// the connection closes.
func (g *Gateway) Serve(ctx context.Context, ws *wsconn.Conn, tenantID, streamID, userID string) error {
	fd, err := generateFD()
	if err != nil {
		return err
	}
	conn := &chatConn{fd: fd, ws: ws, tenantID: tenantID, streamID: streamID, userID: userID}

	g.join(conn)
	g.broadcast(conn, outboundChatFrame{Type: chatTypeJoin, UserID: userID, Timestamp: time.Now().UTC()})

	for {
		payload, err := ws.ReadMessage(ctx)
		if err != nil {
			g.leave(conn)
			return err
		}
		g.dispatch(ctx, conn, payload)
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *chatConn, payload []byte) {
	var frame inboundChatFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		g.sendTo(conn, outboundErrorFrame{Error: "Invalid JSON"})
		return
	}
	switch frame.Type {
	case chatTypeMessage:
		g.handleMessage(ctx, conn, frame)
	case chatTypeTimeout:
		g.handleTimeout(ctx, conn, frame)
	case chatTypeRemoveTimeout:
		g.handleRemoveTimeout(ctx, conn, frame)
	case chatTypeBan:
		g.handleBan(ctx, conn, frame)
	case chatTypeUnban:
		g.handleUnban(ctx, conn, frame)
	case chatTypeReport:
		g.handleReport(conn, frame)
	case chatTypeLeave:
		g.leave(conn)
	default:
		g.sendTo(conn, outboundErrorFrame{Error: "Unknown chat type"})
	}
}

func (g *Gateway) handleMessage(ctx context.Context, conn *chatConn, frame inboundChatFrame) {
	if g.moderator.IsTimedOut(ctx, conn.tenantID, conn.streamID, conn.userID) {
		g.sendTo(conn, outboundErrorFrame{Error: string(ReasonSlowMode)})
		return
	}
	allowed, reason := g.moderator.Validate(ctx, conn.tenantID, conn.streamID, conn.userID, frame.Content)
	if !allowed {
		g.sendTo(conn, outboundErrorFrame{Error: string(reason)})
		return
	}
	g.broadcast(conn, outboundChatFrame{
		Type:      chatTypeMessage,
		UserID:    conn.userID,
		Content:   strings.TrimSpace(frame.Content),
		Timestamp: time.Now().UTC(),
	})
	g.publish(conn, EventTypeMessage, frame.TargetID, "", frame.Content)
}

func (g *Gateway) handleTimeout(ctx context.Context, conn *chatConn, frame inboundChatFrame) {
	duration := time.Duration(frame.DurationSec) * time.Second
	if err := g.moderator.Timeout(ctx, conn.tenantID, conn.streamID, conn.userID, frame.TargetID, frame.Reason, duration); err != nil {
		g.sendTo(conn, outboundErrorFrame{Error: err.Error()})
		return
	}
	g.broadcast(conn, outboundChatFrame{Type: chatTypeTimeout, TargetID: frame.TargetID, Reason: frame.Reason, Timestamp: time.Now().UTC()})
	g.publish(conn, EventTypeTimeout, frame.TargetID, frame.Reason, "")
}

func (g *Gateway) handleRemoveTimeout(ctx context.Context, conn *chatConn, frame inboundChatFrame) {
	if err := g.moderator.RemoveTimeout(ctx, conn.tenantID, conn.streamID, conn.userID, frame.TargetID); err != nil {
		g.sendTo(conn, outboundErrorFrame{Error: err.Error()})
		return
	}
	g.broadcast(conn, outboundChatFrame{Type: chatTypeRemoveTimeout, TargetID: frame.TargetID, Timestamp: time.Now().UTC()})
	g.publish(conn, EventTypeRemoveTimeout, frame.TargetID, "", "")
}

func (g *Gateway) handleBan(ctx context.Context, conn *chatConn, frame inboundChatFrame) {
	var ttl time.Duration
	if frame.DurationSec > 0 {
		ttl = time.Duration(frame.DurationSec) * time.Second
	}
	if err := g.moderator.Ban(ctx, conn.tenantID, conn.streamID, conn.userID, frame.TargetID, frame.Reason, ttl); err != nil {
		g.sendTo(conn, outboundErrorFrame{Error: err.Error()})
		return
	}
	g.broadcast(conn, outboundChatFrame{Type: chatTypeBan, TargetID: frame.TargetID, Reason: frame.Reason, Timestamp: time.Now().UTC()})
	g.publish(conn, EventTypeBan, frame.TargetID, frame.Reason, "")
}

func (g *Gateway) handleUnban(ctx context.Context, conn *chatConn, frame inboundChatFrame) {
	if err := g.moderator.Unban(ctx, conn.tenantID, conn.streamID, conn.userID, frame.TargetID); err != nil {
		g.sendTo(conn, outboundErrorFrame{Error: err.Error()})
		return
	}
	g.broadcast(conn, outboundChatFrame{Type: chatTypeUnban, TargetID: frame.TargetID, Timestamp: time.Now().UTC()})
	g.publish(conn, EventTypeUnban, frame.TargetID, "", "")
}

func (g *Gateway) handleReport(conn *chatConn, frame inboundChatFrame) {
	report := Report{
		TenantID:    conn.tenantID,
		StreamID:    conn.streamID,
		ReporterID:  conn.userID,
		TargetID:    frame.TargetID,
		Reason:      frame.Reason,
		MessageID:   frame.MessageID,
		EvidenceURL: frame.EvidenceURL,
		SubmittedAt: time.Now().UTC(),
	}
	if _, err := g.moderator.SubmitReport(report); err != nil {
		g.sendTo(conn, outboundErrorFrame{Error: err.Error()})
	}
}

func (g *Gateway) publish(conn *chatConn, eventType EventType, targetID, reason, content string) {
	if g.moderator.sink == nil {
		return
	}
	g.moderator.sink.Publish(Event{
		Type:      eventType,
		TenantID:  conn.tenantID,
		StreamID:  conn.streamID,
		ActorID:   conn.userID,
		TargetID:  targetID,
		Content:   content,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

func (g *Gateway) join(conn *chatConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room := roomKey(conn.tenantID, conn.streamID)
	if _, ok := g.rooms[room]; !ok {
		g.rooms[room] = make(map[string]*chatConn)
	}
	g.rooms[room][conn.fd] = conn
}

func (g *Gateway) leave(conn *chatConn) {
	g.mu.Lock()
	room := roomKey(conn.tenantID, conn.streamID)
	members, ok := g.rooms[room]
	if ok {
		delete(members, conn.fd)
	}
	g.mu.Unlock()
	if ok {
		g.broadcast(conn, outboundChatFrame{Type: chatTypeLeave, UserID: conn.userID, Timestamp: time.Now().UTC()})
	}
}

func (g *Gateway) broadcast(from *chatConn, frame outboundChatFrame) {
	g.mu.Lock()
	room := roomKey(from.tenantID, from.streamID)
	members := make([]*chatConn, 0, len(g.rooms[room]))
	for _, conn := range g.rooms[room] {
		members = append(members, conn)
	}
	g.mu.Unlock()

	for _, conn := range members {
		g.sendTo(conn, frame)
	}
}

func (g *Gateway) sendTo(conn *chatConn, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("failed to marshal chat frame", "error", err)
		return
	}
	if err := conn.ws.WriteText(payload); err != nil {
		g.logger.Warn("failed to deliver chat frame", "fd", conn.fd, "error", err)
	}
}

func roomKey(tenantID, streamID string) string {
	return tenantID + ":" + streamID
}
