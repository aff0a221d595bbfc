// Package capture holds the three vantage-point capturers that observe
// 402 responses: the CDP network observer, the injected fetch/XHR
// interceptor, and the embedded page-state scanner. Each produces Events
// consumed once by the reconciliation pipeline.
package capture

// Source identifies the vantage point that produced an Event.
type Source string

const (
	// SourceInterceptor is the injected page-world fetch/XHR wrapper.
	SourceInterceptor Source = "interceptor"
	// SourceEmbedded is the page-global payment-data scanner.
	SourceEmbedded Source = "embedded"
	// SourceWebRequest is the browser-level network observer.
	SourceWebRequest Source = "webRequest"
)

// Event is one ephemeral observation of a 402 response. Events from
// different sources describing the same logical request are merged
// downstream; an Event itself is never stored.
type Event struct {
	URL    string
	Method string // empty when the vantage point cannot see it
	Status int

	// Headers is the raw response header mapping; names are matched
	// case-insensitively downstream.
	Headers map[string]string

	// Body is absent for webRequest captures, which can never read
	// response bodies.
	Body string

	Source Source

	// RequestID is the browser's per-request identifier, present only
	// for webRequest captures.
	RequestID string

	// TabID and TabURL identify the originating browsing context.
	TabID  string
	TabURL string
}

// Sink consumes capture events. Submission is fire-and-forget: a sink
// must never block the capturer.
type Sink interface {
	Submit(Event)
}
