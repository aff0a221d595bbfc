// Package store persists captured payment requests as a small key-value
// layout on disk: the ordered request collection under one key file and
// the display-mode flag under another.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	requestsFile = "requests.json"
	settingsFile = "settings.json"
)

// HeaderPair is one response header as an ordered name/value pair.
type HeaderPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RequestRecord is the persistent, canonical form of one logical 402
// request, fused from whichever vantage points observed it.
type RequestRecord struct {
	ID              string       `json:"id"`
	URL             string       `json:"url"`
	Method          string       `json:"method"`
	Timestamp       time.Time    `json:"timestamp"`
	StatusCode      int          `json:"status_code"`
	ResponseHeaders []HeaderPair `json:"response_headers"`
	ResponseBody    string       `json:"response_body,omitempty"`
	IsX402          bool         `json:"is_x402"`
	ContextID       string       `json:"context_id,omitempty"`
	ContextURL      string       `json:"context_url,omitempty"`
	RequestID       string       `json:"request_id,omitempty"`
	Source          string       `json:"source"`
}

// Header returns the first response header matching name, case-insensitively.
func (r RequestRecord) Header(name string) (string, bool) {
	for _, h := range r.ResponseHeaders {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

type settings struct {
	DisplayMode bool `json:"display_mode"`
}

// Store is the durable record collection. All mutation goes through the
// reconciler's single-writer discipline; the internal mutex only guards
// file IO against concurrent readers.
type Store struct {
	dir string

	mu       sync.RWMutex
	requests []RequestRecord
	settings settings
}

// NewStore opens (or creates) the store directory and loads prior state.
// Corrupt state files are logged and treated as empty rather than fatal.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}

	s := &Store{dir: dir}

	if data, err := os.ReadFile(filepath.Join(dir, requestsFile)); err == nil {
		if err := json.Unmarshal(data, &s.requests); err != nil {
			slog.Warn("store: discarding unreadable requests file", "error", err)
			s.requests = nil
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: read requests: %w", err)
	}

	if data, err := os.ReadFile(filepath.Join(dir, settingsFile)); err == nil {
		if err := json.Unmarshal(data, &s.settings); err != nil {
			slog.Warn("store: discarding unreadable settings file", "error", err)
			s.settings = settings{}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("store: read settings: %w", err)
	}

	return s, nil
}

// All returns a copy of every record in insertion (first-capture) order.
func (s *Store) All() []RequestRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RequestRecord, len(s.requests))
	copy(out, s.requests)
	return out
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (RequestRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.requests {
		if rec.ID == id {
			return rec, true
		}
	}
	return RequestRecord{}, false
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.requests)
}

// Append adds a new record at the end of the collection.
func (s *Store) Append(rec RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, rec)
	return s.flushRequests()
}

// Replace supersedes the record with the given ID in place. The stored
// position is kept so insertion order stays first-capture order.
func (s *Store) Replace(id string, rec RequestRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.requests {
		if s.requests[i].ID == id {
			s.requests[i] = rec
			return s.flushRequests()
		}
	}
	return fmt.Errorf("store: replace: no record with id %s", id)
}

// Delete removes the record with the given ID.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.requests {
		if s.requests[i].ID == id {
			s.requests = append(s.requests[:i], s.requests[i+1:]...)
			return s.flushRequests()
		}
	}
	return fmt.Errorf("store: delete: no record with id %s", id)
}

// DisplayMode reads the presentation display-mode flag.
func (s *Store) DisplayMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.DisplayMode
}

// SetDisplayMode writes the presentation display-mode flag.
func (s *Store) SetDisplayMode(v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.DisplayMode = v
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal settings: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, settingsFile), data, 0o644); err != nil {
		return fmt.Errorf("store: write settings: %w", err)
	}
	return nil
}

// flushRequests persists the full collection. Caller holds the write lock.
func (s *Store) flushRequests() error {
	data, err := json.MarshalIndent(s.requests, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal requests: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, requestsFile), data, 0o644); err != nil {
		return fmt.Errorf("store: write requests: %w", err)
	}
	return nil
}
