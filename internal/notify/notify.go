// Package notify pushes plain-text alerts to an NTFY-compatible
// endpoint when new payment challenges are captured.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Notifier posts capture alerts. A zero-value endpoint disables it.
type Notifier struct {
	client   *http.Client
	endpoint string
}

// NewNotifier builds a notifier for the given endpoint. An empty
// endpoint yields a notifier whose sends are no-ops.
func NewNotifier(client *http.Client, endpoint string) *Notifier {
	return &Notifier{client: client, endpoint: endpoint}
}

// Enabled reports whether an endpoint is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && n.endpoint != ""
}

// NotifyNewRequest announces a freshly captured payment challenge.
// total is the store size after the append.
func (n *Notifier) NotifyNewRequest(ctx context.Context, url string, total int) error {
	if !n.Enabled() {
		return nil
	}
	host, _ := os.Hostname()
	msg := fmt.Sprintf("x402 capture on %s: %s (%d total)", host, url, total)
	return Send(ctx, n.client, n.endpoint, msg)
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
