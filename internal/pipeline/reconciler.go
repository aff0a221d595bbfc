package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/x402_agent/internal/capture"
	"github.com/dgnsrekt/x402_agent/internal/store"
	"github.com/dgnsrekt/x402_agent/internal/x402"
)

// DefaultMergeWindow bounds how far apart two captures of the same
// url/method may be and still describe one logical request.
const DefaultMergeWindow = 5000 * time.Millisecond

const defaultQueueSize = 256

// Hooks fan store outcomes out to presentation and notification layers.
// OnNew fires exactly once per genuinely new logical request; OnUpdated
// fires when a later capture supersedes a stored record.
type Hooks struct {
	OnNew     func(store.RequestRecord)
	OnUpdated func(store.RequestRecord)
}

// EventJournal receives every accepted capture event, for debugging.
type EventJournal interface {
	Write(v any) error
}

// Reconciler is the single logical writer of the store. Every capture
// event funnels through one mutex-guarded read-modify-write so that
// concurrent captures of the same logical request can never race into
// duplicate records or interleaved writes.
type Reconciler struct {
	store   *store.Store
	hooks   Hooks
	journal EventJournal
	window  time.Duration
	now     func() time.Time

	mu     sync.Mutex
	lastTS time.Time

	newRequests atomic.Int64

	events chan capture.Event
	done   chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithMergeWindow overrides the url/method fallback matching window.
func WithMergeWindow(w time.Duration) Option {
	return func(r *Reconciler) {
		if w > 0 {
			r.window = w
		}
	}
}

// WithJournal attaches a capture-event journal.
func WithJournal(j EventJournal) Option {
	return func(r *Reconciler) { r.journal = j }
}

// WithClock overrides the receipt clock.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// NewReconciler builds a reconciler over the given store.
func NewReconciler(st *store.Store, hooks Hooks, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  st,
		hooks:  hooks,
		window: DefaultMergeWindow,
		now:    time.Now,
		events: make(chan capture.Event, defaultQueueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the queue drain loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case ev := <-r.events:
				r.Ingest(ev)
			case <-r.done:
				return
			}
		}
	}()
}

// Close stops the drain loop. Queued events that have not been ingested
// yet are dropped; delivery here is at-most-once by design.
func (r *Reconciler) Close() {
	close(r.done)
	r.wg.Wait()
}

// Submit queues an event without blocking the capturer. A full queue
// drops the event with a warning; the multi-vantage redundancy makes
// that loss tolerable.
func (r *Reconciler) Submit(ev capture.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
		slog.Debug("reconciler closed, dropping capture event", "url", ev.URL)
	default:
		slog.Warn("reconciler queue full, dropping capture event", "url", ev.URL, "source", ev.Source)
	}
}

// NewRequestCount reports how many genuinely new logical requests have
// been stored since the last reset. Drives the badge counter.
func (r *Reconciler) NewRequestCount() int64 {
	return r.newRequests.Load()
}

// ResetNewRequestCount clears the badge counter.
func (r *Reconciler) ResetNewRequestCount() {
	r.newRequests.Store(0)
}

// Ingest normalizes and reconciles one capture event synchronously.
// It is the one write path into the store. Hooks fire after the write
// lock is released, so a slow consumer can never stall reconciliation
// of unrelated captures.
func (r *Reconciler) Ingest(ev capture.Event) {
	if !x402.IsPaymentRequired(ev.Status) {
		slog.Debug("ignoring non-402 capture event", "url", ev.URL, "status", ev.Status)
		return
	}

	rec, updated, ok := r.reconcile(ev)
	if !ok {
		return
	}

	if updated {
		if r.hooks.OnUpdated != nil {
			r.hooks.OnUpdated(rec)
		}
		return
	}
	if r.hooks.OnNew != nil {
		r.hooks.OnNew(rec)
	}
}

// reconcile performs the locked read-modify-write. The second return
// reports whether an existing record was superseded; the third whether
// the store accepted the write at all.
func (r *Reconciler) reconcile(ev capture.Event) (store.RequestRecord, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ts := r.now().UTC()
	// Receipt timestamps are monotonically non-decreasing per insert.
	if ts.Before(r.lastTS) {
		ts = r.lastTS
	}
	r.lastTS = ts

	rec := Normalize(ev, ts)

	if r.journal != nil {
		if err := r.journal.Write(rec); err != nil {
			slog.Debug("capture journal write failed", "error", err)
		}
	}

	existing := r.store.All()
	idx := r.match(existing, rec)
	if idx >= 0 {
		// Last write wins: the incoming record fully supersedes the
		// stored one. Only the logical request's identity survives.
		rec.ID = existing[idx].ID
		if err := r.store.Replace(rec.ID, rec); err != nil {
			slog.Error("store replace failed", "id", rec.ID, "error", err)
			return store.RequestRecord{}, false, false
		}
		slog.Info("402 request superseded", "url", rec.URL, "source", rec.Source, "id", rec.ID)
		return rec, true, true
	}

	if err := r.store.Append(rec); err != nil {
		slog.Error("store append failed", "url", rec.URL, "error", err)
		return store.RequestRecord{}, false, false
	}
	r.newRequests.Add(1)
	slog.Info("402 request captured", "url", rec.URL, "method", rec.Method, "source", rec.Source, "id", rec.ID)
	return rec, false, true
}

// match finds the stored record the incoming one supersedes, or -1.
// Policy order: shared browser request identifier first, then same
// url/method within the merge window. Newest candidates win so repeated
// logical requests beyond the window stay distinct.
func (r *Reconciler) match(records []store.RequestRecord, incoming store.RequestRecord) int {
	if incoming.RequestID != "" {
		for i := len(records) - 1; i >= 0; i-- {
			if records[i].RequestID != "" && records[i].RequestID == incoming.RequestID {
				return i
			}
		}
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].URL != incoming.URL || records[i].Method != incoming.Method {
			continue
		}
		delta := incoming.Timestamp.Sub(records[i].Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta < r.window {
			return i
		}
	}
	return -1
}
