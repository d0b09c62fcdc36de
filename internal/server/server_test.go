package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"signalmesh/internal/chatmod"
	"signalmesh/internal/hlsorigin"
	"signalmesh/internal/kv"
	"signalmesh/internal/signaling"
	"signalmesh/internal/streammgr"
	"signalmesh/internal/viewers"
)

// newTestServer builds a fully-wired Server backed by in-memory fakes, for
// exercising the HTTP surface without a real KV store or encoder.
func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()

	store := kv.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	streams, err := streammgr.New(streammgr.Config{Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("streammgr.New error: %v", err)
	}
	router, err := signaling.New(signaling.Config{Validator: streams, Logger: logger})
	if err != nil {
		t.Fatalf("signaling.New error: %v", err)
	}
	moderator, err := chatmod.New(chatmod.Config{Store: store, Logger: logger})
	if err != nil {
		t.Fatalf("chatmod.New error: %v", err)
	}
	gateway := chatmod.NewGateway(moderator, logger)
	origin := hlsorigin.New(t.TempDir())
	tracker, err := viewers.New(store, 0)
	if err != nil {
		t.Fatalf("viewers.New error: %v", err)
	}

	cfg := Config{
		Addr:      "127.0.0.1:0",
		Logger:    logger,
		Streams:   streams,
		Signaling: router,
		Chat:      gateway,
		HLS:       origin,
		Viewers:   tracker,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return srv
}

func TestNewReturnsErrorWhenDependenciesMissing(t *testing.T) {
	t.Parallel()

	srv, err := New(Config{})
	if err == nil {
		t.Fatalf("expected error when dependencies are missing, got server: %#v", srv)
	}
}

func TestHealthzReturnsOK(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStreamsCollectionRequiresIdentity(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/streams", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity headers, got %d", rec.Code)
	}
}

func TestCreateStreamThenStartAndEnd(t *testing.T) {
	srv := newTestServer(t, nil)

	body, _ := json.Marshal(createStreamRequest{Title: "Test Stream"})
	req := httptest.NewRequest(http.MethodPost, "/api/streams", bytes.NewReader(body))
	req.Header.Set("X-Tenant-Id", "tenant-1")
	req.Header.Set("X-User-Id", "user-1")
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating stream, got %d: %s", rec.Code, rec.Body.String())
	}

	var created struct {
		ID        string `json:"id"`
		StreamKey string `json:"streamKey"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ID == "" || created.StreamKey == "" {
		t.Fatalf("expected id and stream key in response, got %+v", created)
	}

	startReq := httptest.NewRequest(http.MethodPost, "/api/streams/"+created.ID+"/start", nil)
	startReq.Header.Set("X-Tenant-Id", "tenant-1")
	startReq.Header.Set("X-User-Id", "user-1")
	startReq.Header.Set("X-Stream-Key", created.StreamKey)
	startRec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(startRec, startReq)
	if startRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 starting stream, got %d: %s", startRec.Code, startRec.Body.String())
	}

	endReq := httptest.NewRequest(http.MethodPost, "/api/streams/"+created.ID+"/end", nil)
	endReq.Header.Set("X-Tenant-Id", "tenant-1")
	endReq.Header.Set("X-User-Id", "user-1")
	endRec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(endRec, endReq)
	if endRec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 ending stream, got %d: %s", endRec.Code, endRec.Body.String())
	}
}

func TestStartStreamRejectsWrongKey(t *testing.T) {
	srv := newTestServer(t, nil)

	body, _ := json.Marshal(createStreamRequest{Title: "Test Stream"})
	req := httptest.NewRequest(http.MethodPost, "/api/streams", bytes.NewReader(body))
	req.Header.Set("X-Tenant-Id", "tenant-1")
	req.Header.Set("X-User-Id", "user-1")
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &created)

	startReq := httptest.NewRequest(http.MethodPost, "/api/streams/"+created.ID+"/start", nil)
	startReq.Header.Set("X-Tenant-Id", "tenant-1")
	startReq.Header.Set("X-User-Id", "user-1")
	startReq.Header.Set("X-Stream-Key", "wrong-key")
	startRec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(startRec, startReq)
	if startRec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong stream key, got %d", startRec.Code)
	}
}

func TestGetUnknownStreamReturns404(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/streams/does-not-exist", nil)
	req.Header.Set("X-Tenant-Id", "tenant-1")
	req.Header.Set("X-User-Id", "user-1")
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHLSRouteBypassesIdentity(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/hls/stream-1/playlist.m3u8", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing segment (not 401), got %d", rec.Code)
	}
}
