// Package signaling implements the WebRTC-style signaling router (C6):
// offer/answer/candidate/subscribe relaying between one broadcaster and many
// viewers per stream, scoped to a single worker process.
package signaling

import (
	"container/list"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"signalmesh/internal/streammgr"
	"signalmesh/internal/wsconn"
)

// Config wires a Router to the stream-key validator it depends on.
type Config struct {
	Validator streammgr.KeyValidator
	Logger    *slog.Logger
}

// connection is one registered WebSocket peer, either a broadcaster or a
// viewer, identified by its fd for the lifetime of the socket.
type connection struct {
	fd       string
	ws       *wsconn.Conn
	tenantID string
	userID   string
}

// viewerRegistry is an insertion-ordered set of viewer connections for one
// stream, backed by a doubly linked list so a disconnecting viewer can be
// removed in O(1) without disturbing the relative order of the survivors.
type viewerRegistry struct {
	order *list.List
	index map[string]*list.Element
}

func newViewerRegistry() *viewerRegistry {
	return &viewerRegistry{order: list.New(), index: make(map[string]*list.Element)}
}

func (v *viewerRegistry) add(conn *connection) {
	if _, ok := v.index[conn.fd]; ok {
		return
	}
	v.index[conn.fd] = v.order.PushBack(conn)
}

func (v *viewerRegistry) remove(fd string) {
	if e, ok := v.index[fd]; ok {
		v.order.Remove(e)
		delete(v.index, fd)
	}
}

// list returns the viewers in the order they subscribed.
func (v *viewerRegistry) list() []*connection {
	out := make([]*connection, 0, v.order.Len())
	for e := v.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*connection))
	}
	return out
}

// Router fans out signaling frames among broadcasters and viewers. All state
// is worker-local; siblings coordinate only through C5's shared key store.
type Router struct {
	validator streammgr.KeyValidator
	logger    *slog.Logger

	mu           sync.Mutex
	broadcasters map[string]*connection     // streamID -> broadcaster
	viewers      map[string]*viewerRegistry // streamID -> ordered viewer set
	streamOf     map[string]string          // fd -> streamID
	isBroadcast  map[string]bool            // fd -> true if broadcaster
	connByFD     map[string]*connection     // fd -> connection
}

// New constructs a Router. Validator must not be nil.
func New(cfg Config) (*Router, error) {
	if cfg.Validator == nil {
		return nil, errRequiredValidator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		validator:    cfg.Validator,
		logger:       logger,
		broadcasters: make(map[string]*connection),
		viewers:      make(map[string]*viewerRegistry),
		streamOf:     make(map[string]string),
		isBroadcast:  make(map[string]bool),
		connByFD:     make(map[string]*connection),
	}, nil
}

// Serve reads frames from ws until the connection closes or ctx is done,
// dispatching each to the appropriate handler. It always performs disconnect
// cleanup before returning, even on error.
func (r *Router) Serve(ctx context.Context, ws *wsconn.Conn, tenantID, userID string) error {
	fd, err := generateFD()
	if err != nil {
		return err
	}
	conn := &connection{fd: fd, ws: ws, tenantID: tenantID, userID: userID}

	for {
		payload, err := ws.ReadMessage(ctx)
		if err != nil {
			r.disconnect(conn)
			return err
		}
		r.dispatch(ctx, conn, payload)
	}
}

func (r *Router) dispatch(ctx context.Context, conn *connection, payload []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		r.send(conn, errorFrame{Error: "Invalid JSON"})
		return
	}
	switch frame.Type {
	case typeOffer:
		r.handleOffer(ctx, conn, frame)
	case typeAnswer:
		r.handleAnswer(conn, frame)
	case typeCandidate:
		r.handleCandidate(conn, frame)
	case typeSubscribe:
		r.handleSubscribe(conn, frame)
	default:
		r.send(conn, errorFrame{Error: "Unknown signaling type", Type: frame.Type})
	}
}

func (r *Router) handleOffer(ctx context.Context, conn *connection, frame inboundFrame) {
	if strings.TrimSpace(frame.StreamID) == "" || strings.TrimSpace(frame.SDP) == "" {
		r.send(conn, errorFrame{Error: "Missing stream_id or sdp"})
		return
	}
	if !r.validator.ValidateStreamKey(ctx, conn.tenantID, frame.StreamID, frame.StreamKey) {
		r.send(conn, errorFrame{Error: "Invalid stream key"})
		return
	}

	r.mu.Lock()
	if prior, exists := r.broadcasters[frame.StreamID]; exists && prior.fd != conn.fd {
		r.logger.Warn("broadcaster takeover", "stream_id", frame.StreamID, "previous_fd", prior.fd, "new_fd", conn.fd)
	}
	r.broadcasters[frame.StreamID] = conn
	r.streamOf[conn.fd] = frame.StreamID
	r.isBroadcast[conn.fd] = true
	r.connByFD[conn.fd] = conn
	if _, ok := r.viewers[frame.StreamID]; !ok {
		r.viewers[frame.StreamID] = newViewerRegistry()
	}
	viewerConns := r.viewers[frame.StreamID].list()
	r.mu.Unlock()

	r.send(conn, broadcastStartedFrame{Type: typeBroadcastStarted, StreamID: frame.StreamID})
	for _, viewer := range viewerConns {
		r.send(viewer, offerFrame{Type: typeOffer, StreamID: frame.StreamID, SDP: frame.SDP})
	}
}

func (r *Router) handleAnswer(conn *connection, frame inboundFrame) {
	r.mu.Lock()
	broadcaster, ok := r.broadcasters[frame.StreamID]
	r.mu.Unlock()
	if !ok {
		r.send(conn, errorFrame{Error: "Stream not found"})
		return
	}
	r.send(broadcaster, answerFrame{Type: typeAnswer, StreamID: frame.StreamID, SDP: frame.SDP, ViewerFD: conn.fd})
}

func (r *Router) handleCandidate(conn *connection, frame inboundFrame) {
	if strings.TrimSpace(frame.StreamID) == "" || strings.TrimSpace(frame.Candidate) == "" {
		return
	}
	out := candidateFrame{Type: typeCandidate, StreamID: frame.StreamID, Candidate: frame.Candidate, FromFD: conn.fd}

	if frame.TargetFD != "" {
		r.mu.Lock()
		target, ok := r.connByFD[frame.TargetFD]
		r.mu.Unlock()
		if ok {
			r.send(target, out)
		}
		return
	}

	r.mu.Lock()
	broadcaster, isBroadcaster := r.broadcasters[frame.StreamID]
	amBroadcaster := isBroadcaster && broadcaster.fd == conn.fd
	var viewerConns []*connection
	if amBroadcaster {
		if reg, ok := r.viewers[frame.StreamID]; ok {
			viewerConns = reg.list()
		}
	}
	r.mu.Unlock()

	if amBroadcaster {
		for _, viewer := range viewerConns {
			r.send(viewer, out)
		}
		return
	}
	if isBroadcaster {
		r.send(broadcaster, out)
	}
}

func (r *Router) handleSubscribe(conn *connection, frame inboundFrame) {
	if strings.TrimSpace(frame.StreamID) == "" {
		r.send(conn, errorFrame{Error: "Missing stream_id"})
		return
	}

	r.mu.Lock()
	if _, ok := r.viewers[frame.StreamID]; !ok {
		r.viewers[frame.StreamID] = newViewerRegistry()
	}
	r.viewers[frame.StreamID].add(conn)
	r.streamOf[conn.fd] = frame.StreamID
	r.isBroadcast[conn.fd] = false
	r.connByFD[conn.fd] = conn
	broadcaster, hasBroadcaster := r.broadcasters[frame.StreamID]
	r.mu.Unlock()

	if hasBroadcaster {
		r.send(conn, streamActiveFrame{Type: typeStreamActive, StreamID: frame.StreamID})
		r.send(broadcaster, viewerJoinedFrame{Type: typeViewerJoined, StreamID: frame.StreamID, ViewerFD: conn.fd})
		return
	}
	r.send(conn, streamWaitingFrame{Type: typeStreamWaiting, StreamID: frame.StreamID})
}

func (r *Router) disconnect(conn *connection) {
	r.mu.Lock()
	streamID, ok := r.streamOf[conn.fd]
	if !ok {
		r.mu.Unlock()
		return
	}
	wasBroadcaster := r.isBroadcast[conn.fd]
	delete(r.streamOf, conn.fd)
	delete(r.isBroadcast, conn.fd)
	delete(r.connByFD, conn.fd)

	var viewerConns []*connection
	if wasBroadcaster {
		delete(r.broadcasters, streamID)
		if reg, ok := r.viewers[streamID]; ok {
			viewerConns = reg.list()
		}
		delete(r.viewers, streamID)
	} else if reg, ok := r.viewers[streamID]; ok {
		reg.remove(conn.fd)
	}
	r.mu.Unlock()

	if wasBroadcaster {
		for _, viewer := range viewerConns {
			r.send(viewer, streamEndedFrame{Type: typeStreamEnded, StreamID: streamID})
		}
	}
}

func (r *Router) send(conn *connection, frame interface{}) {
	payload, err := json.Marshal(frame)
	if err != nil {
		r.logger.Error("failed to marshal signaling frame", "error", err)
		return
	}
	if err := conn.ws.WriteText(payload); err != nil {
		r.logger.Warn("failed to deliver signaling frame", "fd", conn.fd, "error", err)
	}
}
