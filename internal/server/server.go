package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"signalmesh/internal/chatmod"
	"signalmesh/internal/hlsorigin"
	"signalmesh/internal/observability/logging"
	"signalmesh/internal/observability/metrics"
	"signalmesh/internal/signaling"
	"signalmesh/internal/streammgr"
	"signalmesh/internal/viewers"
	"signalmesh/internal/wsconn"
)

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config wires the orchestrator's domain components onto a single HTTP
// surface: stream lifecycle REST, the signaling and chat WebSocket
// endpoints, HLS segment delivery, health, and metrics.
type Config struct {
	Addr        string
	TLS         TLSConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Security    SecurityConfig
	Logger      *slog.Logger
	AuditLogger *slog.Logger
	Metrics     *metrics.Recorder

	Streams   *streammgr.Manager
	Signaling *signaling.Router
	Chat      *chatmod.Gateway
	HLS       *hlsorigin.Server
	Viewers   *viewers.Tracker
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	auditLogger *slog.Logger
	metrics     *metrics.Recorder
	rateLimiter *rateLimiter
	tlsCertFile string
	tlsKeyFile  string
}

// New assembles the HTTP multiplexer and middleware chain described by Config.
// Streams, Signaling, Chat, HLS, and Viewers must all be non-nil.
func New(cfg Config) (*Server, error) {
	if cfg.Streams == nil || cfg.Signaling == nil || cfg.Chat == nil || cfg.HLS == nil || cfg.Viewers == nil {
		return nil, fmt.Errorf("server: Streams, Signaling, Chat, HLS, and Viewers are all required")
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &handlers{
		streams:   cfg.Streams,
		signaling: cfg.Signaling,
		chat:      cfg.Chat,
		hls:       cfg.HLS,
		viewers:   cfg.Viewers,
		logger:    logger,
		metrics:   recorder,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.health)
	mux.Handle("/metrics", recorder.Handler())
	mux.HandleFunc("/api/streams", h.streamsCollection)
	mux.HandleFunc("/api/streams/", h.streamsItem)
	mux.HandleFunc("/signaling/ws", h.signalingWS)
	mux.HandleFunc("/chat/ws", h.chatWS)
	mux.HandleFunc("/hls/", h.hlsSegment)

	corsPolicy, err := newCORSPolicy(cfg.CORS)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	rl := newRateLimiter(cfg.RateLimit)

	// auditMiddleware sits directly inside authRoutingMiddleware so the
	// identity it logs is the one the request actually carried into the
	// handler, not a snapshot taken before identityMiddleware attached it.
	handlerChain := http.Handler(mux)
	handlerChain = hlsPathGuardMiddleware(handlerChain)
	handlerChain = auditMiddleware(cfg.AuditLogger, handlerChain)
	handlerChain = authRoutingMiddleware(handlerChain)
	handlerChain = rateLimitMiddleware(rl, logger, handlerChain)
	handlerChain = corsMiddleware(corsPolicy, logger, handlerChain)
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metricsMiddleware(recorder, handlerChain)
	handlerChain = loggingMiddleware(logger, handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	srv := &Server{
		httpServer:  httpServer,
		logger:      logger,
		auditLogger: cfg.AuditLogger,
		metrics:     recorder,
		rateLimiter: rl,
		tlsCertFile: strings.TrimSpace(cfg.TLS.CertFile),
		tlsKeyFile:  strings.TrimSpace(cfg.TLS.KeyFile),
	}

	if srv.tlsCertFile != "" && srv.tlsKeyFile != "" {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return srv, nil
}

func (s *Server) Start() error {
	if s.httpServer == nil {
		return fmt.Errorf("http server is not configured")
	}
	if s.tlsCertFile != "" && s.tlsKeyFile != "" {
		return s.httpServer.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// HTTPServer exposes the underlying *http.Server so a caller can drive it
// through internal/serverutil.Run alongside other long-running components in
// an errgroup, instead of calling Start/Shutdown directly.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// TLS reports the certificate and key paths configured for this server, if any.
func (s *Server) TLS() (certFile, keyFile string) {
	return s.tlsCertFile, s.tlsKeyFile
}

// handlers groups the domain dependencies every route needs. It is not
// exported; Config is the only public wiring surface.
type handlers struct {
	streams   *streammgr.Manager
	signaling *signaling.Router
	chat      *chatmod.Gateway
	hls       *hlsorigin.Server
	viewers   *viewers.Tracker
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type createStreamRequest struct {
	Title    string            `json:"title"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (h *handlers) streamsCollection(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createStreamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		stream, streamKey, err := h.streams.CreateStream(r.Context(), id.TenantID, id.UserID, req.Title, req.Metadata)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		stream.StreamKey = streamKey
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(stream)
	case http.MethodGet:
		live := h.streams.GetLiveStreams(id.TenantID)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(live)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// streamsItem handles /api/streams/{id}, /api/streams/{id}/start,
// /api/streams/{id}/end, and /api/streams/{id}/viewers.
func (h *handlers) streamsItem(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/streams/")
	streamID, action := splitStreamPath(rest)
	if streamID == "" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		h.getStream(w, r, streamID)
	case "start":
		h.startStream(w, r, id, streamID)
	case "end":
		h.endStream(w, r, streamID)
	case "viewers":
		h.streamViewers(w, r, id, streamID)
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

func splitStreamPath(rest string) (streamID, action string) {
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", ""
	}
	parts := strings.SplitN(rest, "/", 2)
	streamID = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return streamID, action
}

func (h *handlers) getStream(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stream, ok := h.streams.GetStream(streamID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "stream not found")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(stream)
}

func (h *handlers) startStream(w http.ResponseWriter, r *http.Request, id identity, streamID string) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	candidate := strings.TrimSpace(r.Header.Get("X-Stream-Key"))
	if !h.streams.ValidateStreamKey(r.Context(), id.TenantID, streamID, candidate) {
		writeJSONError(w, http.StatusUnauthorized, "invalid stream key")
		return
	}
	started, err := h.streams.StartStream(r.Context(), streamID)
	if err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if !started {
		writeJSONError(w, http.StatusNotFound, "stream not found")
		return
	}
	h.metrics.StreamStarted()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) endStream(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ended, err := h.streams.EndStream(r.Context(), streamID)
	if err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	if !ended {
		writeJSONError(w, http.StatusNotFound, "stream not found")
		return
	}
	h.metrics.StreamStopped()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) streamViewers(w http.ResponseWriter, r *http.Request, id identity, streamID string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	count, err := h.viewers.Count(r.Context(), id.TenantID, streamID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read viewer count")
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(map[string]int64{"count": count})
}

func (h *handlers) signalingWS(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	ws, err := wsconn.Accept(w, r)
	if err != nil {
		h.logger.Warn("signaling upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	if err := h.signaling.Serve(r.Context(), ws, id.TenantID, id.UserID); err != nil {
		h.logger.Debug("signaling connection closed", "error", err)
	}
}

func (h *handlers) chatWS(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}
	streamID := strings.TrimSpace(r.URL.Query().Get("streamId"))
	if streamID == "" {
		writeJSONError(w, http.StatusBadRequest, "streamId is required")
		return
	}
	ws, err := wsconn.Accept(w, r)
	if err != nil {
		h.logger.Warn("chat upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	if err := h.chat.Serve(r.Context(), ws, id.TenantID, streamID, id.UserID); err != nil {
		h.logger.Debug("chat connection closed", "error", err)
	}
}

// hlsPathGuardMiddleware rejects "/hls/" traversal attempts with 400 before
// http.ServeMux gets a chance to clean the path and issue its own redirect,
// which would otherwise turn a "../" request into a 301 instead of a 400.
func hlsPathGuardMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/hls/") && strings.Contains(r.URL.Path, "..") {
			writeJSONError(w, http.StatusBadRequest, "invalid path")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) hlsSegment(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/hls/"), "/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeJSONError(w, http.StatusBadRequest, "expected /hls/{streamId}/{filename}")
		return
	}
	h.hls.ServeSegment(w, r, parts[0], parts[1])
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func newStatusRecorder(w http.ResponseWriter) *statusRecorder {
	return &statusRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(recorder, r)
		duration := time.Since(start)
		logging.WithContext(r.Context(), logger).Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", duration.Milliseconds(),
			"remote_ip", extractClientIP(r))
	})
}

func metricsMiddleware(recorder *metrics.Recorder, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = metrics.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		recorder.ObserveRequest(r.Method, r.URL.Path, sr.status, time.Since(start))
	})
}

func rateLimitMiddleware(rl *rateLimiter, logger *slog.Logger, next http.Handler) http.Handler {
	if rl == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.AllowRequest() {
			writeJSONError(w, http.StatusTooManyRequests, "global rate limit exceeded")
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/api/streams" {
			ip := extractClientIP(r)
			allowed, retryAfter, err := rl.AllowCreateStream(ip)
			if err != nil {
				if logger != nil {
					logger.Error("rate limiter failure", "error", err)
				}
				writeJSONError(w, http.StatusServiceUnavailable, "rate limit failure")
				return
			}
			if !allowed {
				if retryAfter > 0 {
					w.Header().Set("Retry-After", strconv.FormatFloat(retryAfter.Seconds(), 'f', 0, 64))
				}
				writeJSONError(w, http.StatusTooManyRequests, "too many stream-creation attempts")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func auditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	if logger == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := newStatusRecorder(w)
		start := time.Now()
		next.ServeHTTP(sr, r)
		if !shouldAudit(r) {
			return
		}
		duration := time.Since(start)
		fields := []interface{}{
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", duration.Milliseconds(),
			"remote_ip", extractClientIP(r),
			"conn_fingerprint", streammgr.ConnectionFingerprint(extractClientIP(r), r.UserAgent()),
		}
		if id, ok := identityFromContext(r.Context()); ok {
			fields = append(fields, "tenant_id", id.TenantID, "user_id", id.UserID)
		}
		logger.Info("audit", fields...)
	})
}

func shouldAudit(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return false
	}
	switch {
	case strings.HasPrefix(r.URL.Path, "/api/"):
		return true
	default:
		return false
	}
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	return clientIP(r.RemoteAddr)
}

func clientIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// authRoutingMiddleware applies identityMiddleware to every route except the
// ones that must stay reachable without an authenticated caller: health
// checks, metrics scraping, and HLS segment delivery, which carries its own
// wildcard CORS policy for CDN/player consumption (see internal/hlsorigin).
func authRoutingMiddleware(next http.Handler) http.Handler {
	protected := identityMiddleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/healthz", r.URL.Path == "/metrics":
			next.ServeHTTP(w, r)
		case strings.HasPrefix(r.URL.Path, "/hls/"):
			next.ServeHTTP(w, r)
		default:
			protected.ServeHTTP(w, r)
		}
	})
}
