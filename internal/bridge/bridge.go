// Package bridge relays capture messages across the trust boundary
// between injected page scripts and the privileged daemon. Inbound
// messages are accepted only when they carry the per-session token that
// the daemon itself planted into the page, which rejects spoofed or
// cross-context senders.
package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/x402_agent/internal/capture"
	"github.com/google/uuid"
)

const (
	// MessageCaptured is the inbound page→daemon capture message type.
	MessageCaptured = "X402_CAPTURED"
	// MessageBasketUpdated is the outbound daemon→page control message.
	MessageBasketUpdated = "X402_BASKET_UPDATED"

	// BindingName is the CDP binding the injected script calls.
	BindingName = "__x402Relay"

	defaultMaxBodyBytes = 10 * 1024 * 1024
)

// Evaluator runs JavaScript inside a specific tab. Implemented by the
// CDP client.
type Evaluator interface {
	EvaluateInTab(ctx context.Context, tabID, js string) error
}

// Bridge decodes binding calls into capture events and delivers basket
// updates back to originating tabs. Relay is fire-and-forget in both
// directions: failures are logged, never retried.
type Bridge struct {
	token        string
	sink         capture.Sink
	eval         Evaluator
	maxBodyBytes int
}

// New creates a bridge feeding the given sink. The session token is
// random per daemon run.
func New(sink capture.Sink) *Bridge {
	return &Bridge{
		token:        uuid.NewString(),
		sink:         sink,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// SetEvaluator wires the downstream delivery path once the CDP client
// exists.
func (b *Bridge) SetEvaluator(eval Evaluator) { b.eval = eval }

// Token returns the per-session trust token to embed in injected scripts.
func (b *Bridge) Token() string { return b.token }

type capturedMessage struct {
	Token   string            `json:"token"`
	Type    string            `json:"type"`
	URL     string            `json:"url"`
	Status  int               `json:"status"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
	Source  string            `json:"source,omitempty"`
}

// HandleBindingCalled processes one Runtime.bindingCalled event. All
// failures are swallowed here: a bad message is dropped, never escalated
// into the CDP event loop.
func (b *Bridge) HandleBindingCalled(tabID, tabURL, name, payload string) {
	if name != BindingName {
		return
	}

	var msg capturedMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		slog.Debug("bridge: unparseable binding payload", "tab_id", tabID, "error", err)
		return
	}
	if msg.Token != b.token {
		slog.Warn("bridge: rejected message with wrong session token", "tab_id", tabID, "url", msg.URL)
		return
	}
	if msg.Type != MessageCaptured {
		slog.Debug("bridge: ignoring unknown message type", "type", msg.Type)
		return
	}

	source := capture.Source(msg.Source)
	if source == "" {
		source = capture.SourceInterceptor
	}

	body := msg.Body
	if len(body) > b.maxBodyBytes {
		sum := sha256.Sum256([]byte(body))
		slog.Warn("bridge: truncating oversized response body",
			"url", msg.URL,
			"original_size", len(body),
			"kept_size", b.maxBodyBytes,
			"sha256", hex.EncodeToString(sum[:]),
		)
		body = body[:b.maxBodyBytes]
	}

	b.sink.Submit(capture.Event{
		URL:     msg.URL,
		Method:  msg.Method,
		Status:  msg.Status,
		Headers: msg.Headers,
		Body:    body,
		Source:  source,
		TabID:   tabID,
		TabURL:  tabURL,
	})
}

// NotifyBasketUpdated posts the superseding record into its originating
// tab as a window message. A missing tab or evaluator is logged and
// dropped; the page simply misses one update.
func (b *Bridge) NotifyBasketUpdated(ctx context.Context, tabID string, record any) {
	if b.eval == nil || tabID == "" {
		return
	}
	data, err := json.Marshal(record)
	if err != nil {
		slog.Debug("bridge: marshal basket update failed", "error", err)
		return
	}
	js := fmt.Sprintf(`window.postMessage({type:%q,data:%s}, "*");`, MessageBasketUpdated, data)
	if err := b.eval.EvaluateInTab(ctx, tabID, js); err != nil {
		slog.Debug("bridge: basket update delivery failed", "tab_id", tabID, "error", err)
	}
}
