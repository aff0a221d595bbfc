package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// DefaultScanDelays are the bounded re-check points after page load.
// Sites set the payment global asynchronously, so a single pass at load
// time would miss late data; redundant detections are absorbed by the
// reconciler downstream.
var DefaultScanDelays = []time.Duration{
	250 * time.Millisecond,
	1 * time.Second,
	3 * time.Second,
	8 * time.Second,
}

// jsEmbeddedProbe reads payment data placed directly into page global
// state (window.__x402) — the side channel some pages use instead of
// returning a 402 body at all. Returns a JSON string either way.
const jsEmbeddedProbe = `(function() {
  try {
    var data = window.__x402;
    if (!data || typeof data !== "object") return JSON.stringify({found:false});
    return JSON.stringify({
      found: true,
      url: typeof data.url === "string" ? data.url : "",
      status: typeof data.status === "number" ? data.status : 402,
      method: typeof data.method === "string" ? data.method : "",
      body: JSON.stringify(data.body !== undefined ? data.body : data)
    });
  } catch (err) {
    return JSON.stringify({found:false, error:String(err && err.message || err)});
  }
})()`

// PageEvaluator runs a JS expression in a tab and returns its string
// result. Implemented by the CDP client.
type PageEvaluator interface {
	EvaluateJSON(ctx context.Context, tabID, js string) (string, error)
}

// EmbeddedScanner is the page-state vantage point. It never observes
// network transport; it polls for payment payloads that page scripts
// planted into a well-known global.
type EmbeddedScanner struct {
	sink   Sink
	eval   PageEvaluator
	delays []time.Duration
}

// NewEmbeddedScanner builds a scanner with the given re-check schedule;
// nil delays fall back to DefaultScanDelays.
func NewEmbeddedScanner(sink Sink, delays []time.Duration) *EmbeddedScanner {
	if len(delays) == 0 {
		delays = DefaultScanDelays
	}
	return &EmbeddedScanner{sink: sink, delays: delays}
}

// SetEvaluator wires the page evaluator once the CDP client exists.
func (s *EmbeddedScanner) SetEvaluator(eval PageEvaluator) { s.eval = eval }

// ScanAfterLoad schedules the bounded re-check sequence for a freshly
// loaded page. Non-blocking; each check that finds data emits one event.
func (s *EmbeddedScanner) ScanAfterLoad(ctx context.Context, tabID, tabURL string) {
	go func() {
		for _, delay := range s.delays {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
			s.scanOnce(ctx, tabID, tabURL)
		}
	}()
}

type probeResult struct {
	Found  bool   `json:"found"`
	URL    string `json:"url"`
	Status int    `json:"status"`
	Method string `json:"method"`
	Body   string `json:"body"`
	Error  string `json:"error"`
}

// scanOnce probes the tab's global state a single time. Every failure is
// swallowed here; a scan error just means no data from this vantage.
func (s *EmbeddedScanner) scanOnce(ctx context.Context, tabID, tabURL string) {
	if s.eval == nil {
		return
	}
	raw, err := s.eval.EvaluateJSON(ctx, tabID, jsEmbeddedProbe)
	if err != nil {
		slog.Debug("embedded scan evaluate failed", "tab_id", tabID, "error", err)
		return
	}

	var result probeResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		slog.Debug("embedded scan returned malformed probe result", "tab_id", tabID, "error", err)
		return
	}
	if !result.Found {
		if result.Error != "" {
			slog.Debug("embedded probe error in page", "tab_id", tabID, "error", result.Error)
		}
		return
	}

	url := result.URL
	if url == "" {
		url = tabURL
	}
	status := result.Status
	if status == 0 {
		status = 402
	}

	s.sink.Submit(Event{
		URL:     url,
		Method:  result.Method,
		Status:  status,
		Headers: map[string]string{},
		Body:    result.Body,
		Source:  SourceEmbedded,
		TabID:   tabID,
		TabURL:  tabURL,
	})
}
