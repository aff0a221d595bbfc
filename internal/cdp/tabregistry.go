package cdp

import (
	"sync"

	"github.com/chromedp/cdproto/target"
)

// TabInfo is the registry's view of one attached browsing context.
type TabInfo struct {
	TargetID string
	URL      string
}

// TabRegistry maps CDP target IDs to tab metadata. Reconciled records
// carry the target ID as their context identifier, so the registry is
// also how basket updates find their way back to a tab.
type TabRegistry struct {
	tabs map[target.ID]*TabInfo
	mu   sync.RWMutex
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{tabs: make(map[target.ID]*TabInfo)}
}

// Register records or refreshes a tab's current URL.
func (r *TabRegistry) Register(targetID target.ID, url string) *TabInfo {
	info := &TabInfo{TargetID: string(targetID), URL: url}
	r.mu.Lock()
	r.tabs[targetID] = info
	r.mu.Unlock()
	return info
}

func (r *TabRegistry) Get(targetID target.ID) (*TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tabs[targetID]
	return info, ok
}

// URL returns the last known page URL for a tab, or "" when unknown.
func (r *TabRegistry) URL(targetID target.ID) string {
	if info, ok := r.Get(targetID); ok {
		return info.URL
	}
	return ""
}

func (r *TabRegistry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tabs, targetID)
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}
