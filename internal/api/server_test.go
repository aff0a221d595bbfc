package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/x402_agent/internal/capture"
	"github.com/dgnsrekt/x402_agent/internal/pipeline"
	"github.com/dgnsrekt/x402_agent/internal/relay"
	"github.com/dgnsrekt/x402_agent/internal/store"
)

type fakeTabs struct{ count int }

func (f fakeTabs) TabCount() int { return f.count }

type testHarness struct {
	store      *store.Store
	reconciler *pipeline.Reconciler
	broker     *relay.Broker
	handler    http.Handler
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	st, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	r := pipeline.NewReconciler(st, pipeline.Hooks{})
	b := relay.NewBroker()
	h := NewServer(Deps{Store: st, Reconciler: r, Broker: b, Tabs: fakeTabs{count: 2}})
	return &testHarness{store: st, reconciler: r, broker: b, handler: h}
}

func (h *testHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func (h *testHarness) ingest(t *testing.T, ev capture.Event) store.RequestRecord {
	t.Helper()
	h.reconciler.Ingest(ev)
	recs := h.store.All()
	if len(recs) == 0 {
		t.Fatal("ingest stored nothing")
	}
	return recs[len(recs)-1]
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHarness(t)
	rr := h.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", rr.Code)
	}
}

func TestListRequestsNewestFirstWithTotals(t *testing.T) {
	h := newTestHarness(t)
	h.ingest(t, capture.Event{URL: "https://shop.example/old", Method: "GET", Status: 402})
	time.Sleep(time.Millisecond)
	h.ingest(t, capture.Event{
		URL: "https://shop.example/new", Method: "POST", Status: 402,
		Body: `{"basket":[{"name":"Espresso","price":"500","quantity":2,"tax":"50"}]}`,
	})

	rr := h.do(t, http.MethodGet, "/api/v1/requests", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var out struct {
		Requests []RequestView `json:"requests"`
		Total    int           `json:"total"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Total != 2 || len(out.Requests) != 2 {
		t.Fatalf("total = %d, len = %d; want 2, 2", out.Total, len(out.Requests))
	}
	if out.Requests[0].URL != "https://shop.example/new" {
		t.Fatalf("first url = %q; want newest first", out.Requests[0].URL)
	}
	if out.Requests[0].Total != "10.50" {
		t.Fatalf("resolved total = %q; want 10.50", out.Requests[0].Total)
	}
	if out.Requests[0].ItemCount != 1 {
		t.Fatalf("item count = %d; want 1", out.Requests[0].ItemCount)
	}
}

func TestGetRequestNotFound(t *testing.T) {
	h := newTestHarness(t)
	rr := h.do(t, http.MethodGet, "/api/v1/requests/missing", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", rr.Code)
	}
}

func TestDeleteRequestPublishesEvent(t *testing.T) {
	h := newTestHarness(t)
	rec := h.ingest(t, capture.Event{URL: "https://shop.example/pay", Method: "GET", Status: 402})

	id, ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(id)

	rr := h.do(t, http.MethodDelete, "/api/v1/requests/"+rec.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if h.store.Count() != 0 {
		t.Fatalf("Count() = %d; want 0", h.store.Count())
	}

	select {
	case evt := <-ch:
		if evt.Type != relay.EventDeleted || evt.Record.ID != rec.ID {
			t.Fatalf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no deleted event published")
	}
}

func TestGetBasketEndpoint(t *testing.T) {
	h := newTestHarness(t)
	rec := h.ingest(t, capture.Event{
		URL: "https://shop.example/pay", Method: "POST", Status: 402,
		Body: `{"accepts":[{"scheme":"exact","network":"base","maxAmountRequired":"1500000","description":"Access"}]}`,
	})

	rr := h.do(t, http.MethodGet, "/api/v1/requests/"+rec.ID+"/basket", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	var out BasketView
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Items) != 1 || out.Items[0].UnitPrice != "1.50" {
		t.Fatalf("basket = %+v", out)
	}
	if out.Total != "1.50" {
		t.Fatalf("total = %q; want 1.50", out.Total)
	}
}

func TestDisplayModeRoundtrip(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/v1/settings/display-mode", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"display_mode":false`) {
		t.Fatalf("body = %s", rr.Body.String())
	}

	rr = h.do(t, http.MethodPut, "/api/v1/settings/display-mode", `{"display_mode":true}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if !h.store.DisplayMode() {
		t.Fatal("display mode not persisted")
	}
}

func TestStatsAndClear(t *testing.T) {
	h := newTestHarness(t)
	h.ingest(t, capture.Event{URL: "https://shop.example/a", Method: "GET", Status: 402, Source: capture.SourceInterceptor})
	h.ingest(t, capture.Event{URL: "https://shop.example/b", Method: "GET", Status: 402, Source: capture.SourceWebRequest})

	rr := h.do(t, http.MethodGet, "/api/v1/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var out struct {
		TotalRequests int            `json:"total_requests"`
		NewRequests   int64          `json:"new_requests"`
		BySource      map[string]int `json:"by_source"`
		ConnectedTabs int            `json:"connected_tabs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.TotalRequests != 2 || out.NewRequests != 2 {
		t.Fatalf("stats = %+v", out)
	}
	if out.BySource["interceptor"] != 1 || out.BySource["webRequest"] != 1 {
		t.Fatalf("by_source = %v", out.BySource)
	}
	if out.ConnectedTabs != 2 {
		t.Fatalf("connected_tabs = %d; want 2", out.ConnectedTabs)
	}

	rr = h.do(t, http.MethodPost, "/api/v1/stats/clear", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("clear status = %d", rr.Code)
	}
	if got := h.reconciler.NewRequestCount(); got != 0 {
		t.Fatalf("NewRequestCount() = %d; want 0", got)
	}
}
