package sfu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebsocketTransportRoundTripsFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	transport, err := DialWebsocketTransport(ctx, url, nil)
	if err != nil {
		t.Fatalf("DialWebsocketTransport: %v", err)
	}
	defer transport.Close()

	sent := Frame{Kind: FrameEvent, Method: "ping", CorrelationID: "abc"}
	if err := transport.Send(ctx, sent); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := transport.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Method != sent.Method || got.CorrelationID != sent.CorrelationID {
		t.Fatalf("expected echoed frame %+v, got %+v", sent, got)
	}
}

func TestWebsocketTransportCloseIsIdempotent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-r.Context().Done()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	transport, err := DialWebsocketTransport(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("DialWebsocketTransport: %v", err)
	}

	if err := transport.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := transport.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
