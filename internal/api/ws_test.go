package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/x402_agent/internal/capture"
	"github.com/dgnsrekt/x402_agent/internal/relay"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func dialEvents(t *testing.T, srv *httptest.Server) net.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		t.Fatalf("ws.Dial(%q) error = %v", url, err)
	}
	return conn
}

func waitForClientCount(t *testing.T, b *relay.Broker, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for b.ClientCount() != want {
		select {
		case <-deadline:
			t.Fatalf("ClientCount() = %d; want %d", b.ClientCount(), want)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestEventsFeedDeliversUpdates(t *testing.T) {
	h := newTestHarness(t)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	conn := dialEvents(t, srv)
	defer conn.Close()

	waitForClientCount(t, h.broker, 1)
	h.ingest(t, capture.Event{URL: "https://shop.example/pay", Method: "GET", Status: 402})
	h.broker.Publish(relay.Event{Type: relay.EventNew, Record: h.store.All()[0]})

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}
	data, err := wsutil.ReadServerText(conn)
	if err != nil {
		t.Fatalf("ReadServerText() error = %v", err)
	}
	var evt relay.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Type != relay.EventNew || evt.Record.URL != "https://shop.example/pay" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestEventsFeedUnsubscribesIdleClientOnDisconnect(t *testing.T) {
	h := newTestHarness(t)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	client := dialEvents(t, srv)
	waitForClientCount(t, h.broker, 1)

	// Drop the connection without ever receiving an event. The server
	// must release the subscription without waiting for a publish to
	// flush it out.
	client.Close()
	waitForClientCount(t, h.broker, 0)
}
