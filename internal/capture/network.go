package capture

import (
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// pendingRequest remembers the outbound side of an in-flight request so
// the method can be attached when the response arrives. The response
// event alone does not carry it.
type pendingRequest struct {
	url    string
	method string
	seen   time.Time
}

// NetworkObserver is the browser-level vantage point. It sees every
// response regardless of page-script visibility — navigations, non-fetch
// resource loads, pages that bypass the interceptor — but can never read
// response bodies, so it acts as a backstop rather than primary source.
type NetworkObserver struct {
	sink Sink

	mu      sync.Mutex
	pending map[string]*pendingRequest

	done chan struct{}
}

// NewNetworkObserver creates the observer and starts its stale-entry
// cleanup loop.
func NewNetworkObserver(sink Sink) *NetworkObserver {
	o := &NetworkObserver{
		sink:    sink,
		pending: make(map[string]*pendingRequest),
		done:    make(chan struct{}),
	}
	go o.cleanupLoop()
	return o
}

// Close stops the cleanup loop.
func (o *NetworkObserver) Close() {
	close(o.done)
}

// OnRequestWillBeSent records the outbound method for later correlation.
func (o *NetworkObserver) OnRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	o.mu.Lock()
	o.pending[string(ev.RequestID)] = &pendingRequest{
		url:    ev.Request.URL,
		method: ev.Request.Method,
		seen:   time.Now(),
	}
	o.mu.Unlock()
}

// OnResponseReceived emits a capture event for 402 responses. The event
// carries headers and the browser's request identifier but no body.
func (o *NetworkObserver) OnResponseReceived(tabID, tabURL string, ev *network.EventResponseReceived) {
	o.mu.Lock()
	p, ok := o.pending[string(ev.RequestID)]
	if ok {
		delete(o.pending, string(ev.RequestID))
	}
	o.mu.Unlock()

	if int(ev.Response.Status) != 402 {
		return
	}

	method := ""
	if ok {
		method = p.method
	}

	o.sink.Submit(Event{
		URL:       ev.Response.URL,
		Method:    method,
		Status:    int(ev.Response.Status),
		Headers:   headerMapToStringMap(ev.Response.Headers),
		Source:    SourceWebRequest,
		RequestID: string(ev.RequestID),
		TabID:     tabID,
		TabURL:    tabURL,
	})
}

// OnLoadingFailed discards correlation state for aborted requests.
func (o *NetworkObserver) OnLoadingFailed(ev *network.EventLoadingFailed) {
	o.mu.Lock()
	delete(o.pending, string(ev.RequestID))
	o.mu.Unlock()
}

func (o *NetworkObserver) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			o.cleanupStale()
		case <-o.done:
			return
		}
	}
}

// cleanupStale drops correlation entries whose responses never arrived.
func (o *NetworkObserver) cleanupStale() {
	threshold := time.Now().Add(-5 * time.Minute)

	o.mu.Lock()
	defer o.mu.Unlock()

	for id, p := range o.pending {
		if p.seen.Before(threshold) {
			delete(o.pending, id)
		}
	}
}

func headerMapToStringMap(headers map[string]any) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}
