package wsconn_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signalmesh/internal/wsconn"
)

func TestAcceptDialRoundTrip(t *testing.T) {
	serverDone := make(chan struct{})
	var serverErr error

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsconn.Accept(w, r)
		if err != nil {
			serverErr = err
			close(serverDone)
			return
		}
		defer conn.Close()

		msg, err := conn.ReadMessage(context.Background())
		if err != nil {
			serverErr = err
			close(serverDone)
			return
		}
		if err := conn.WriteText([]byte("echo:" + string(msg))); err != nil {
			serverErr = err
		}
		close(serverDone)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := wsconn.Dial(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.WriteText([]byte("hello")); err != nil {
		t.Fatalf("write text: %v", err)
	}

	reply, err := client.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if string(reply) != "echo:hello" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	<-serverDone
	if serverErr != nil {
		t.Fatalf("server error: %v", serverErr)
	}
}

func TestAcceptRejectsMissingUpgradeHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	if _, err := wsconn.Accept(rec, req); err == nil {
		t.Fatal("expected error for non-upgrade request")
	}
}

func TestPingIsAnsweredTransparently(t *testing.T) {
	serverDone := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsconn.Accept(w, r)
		if err != nil {
			close(serverDone)
			return
		}
		defer conn.Close()
		if err := conn.Ping([]byte("p")); err != nil {
			t.Errorf("ping: %v", err)
		}
		if err := conn.WriteText([]byte("after-ping")); err != nil {
			t.Errorf("write text: %v", err)
		}
		close(serverDone)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := wsconn.Dial(ctx, wsURL, nil, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	msg, err := client.ReadMessage(ctx)
	if err != nil {
		t.Fatalf("read message: %v", err)
	}
	if string(msg) != "after-ping" {
		t.Fatalf("unexpected message: %q", msg)
	}
	<-serverDone
}
