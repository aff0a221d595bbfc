// Package pipeline fuses capture events from all vantage points into the
// canonical record store: normalization, dedup/merge reconciliation, and
// the single serialized write path.
package pipeline

import (
	"sort"
	"time"

	"github.com/dgnsrekt/x402_agent/internal/capture"
	"github.com/dgnsrekt/x402_agent/internal/store"
	"github.com/google/uuid"
)

// Normalize maps a vantage-specific capture event to a canonical record.
// Pure: no IO, no clock reads. The timestamp is the pipeline receipt
// time, since only the daemon clock is authoritative across vantages.
func Normalize(ev capture.Event, receivedAt time.Time) store.RequestRecord {
	method := ev.Method
	if method == "" {
		method = "GET"
	}

	headers := make([]store.HeaderPair, 0, len(ev.Headers))
	for name, value := range ev.Headers {
		headers = append(headers, store.HeaderPair{Name: name, Value: value})
	}
	// Map iteration order is random; sort so the pair sequence is stable.
	sort.Slice(headers, func(i, j int) bool { return headers[i].Name < headers[j].Name })

	return store.RequestRecord{
		ID:              uuid.NewString(),
		URL:             ev.URL,
		Method:          method,
		Timestamp:       receivedAt,
		StatusCode:      ev.Status,
		ResponseHeaders: headers,
		ResponseBody:    ev.Body,
		IsX402:          true,
		ContextID:       ev.TabID,
		ContextURL:      ev.TabURL,
		RequestID:       ev.RequestID,
		Source:          string(ev.Source),
	}
}
