// Package cdp attaches the watcher to a running Chromium over the
// DevTools protocol and fans browser events out to the vantage
// capturers and the page bridge.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/x402_agent/internal/bridge"
	"github.com/dgnsrekt/x402_agent/internal/capture"
	"github.com/dgnsrekt/x402_agent/internal/config"
)

// Client manages CDP connections to browser tabs.
type Client struct {
	cfg      *config.Config
	observer *capture.NetworkObserver
	scanner  *capture.EmbeddedScanner
	bridge   *bridge.Bridge
	registry *TabRegistry

	allocCtx    context.Context
	allocCancel context.CancelFunc

	tabs   map[target.ID]*TabContext
	tabsMu sync.RWMutex
}

// TabContext is one attached tab with its chromedp session.
type TabContext struct {
	ID     target.ID
	ctx    context.Context
	cancel context.CancelFunc
}

func NewClient(cfg *config.Config, observer *capture.NetworkObserver, scanner *capture.EmbeddedScanner, br *bridge.Bridge, registry *TabRegistry) *Client {
	return &Client{
		cfg:      cfg,
		observer: observer,
		scanner:  scanner,
		bridge:   br,
		registry: registry,
		tabs:     make(map[target.ID]*TabContext),
	}
}

// Connect dials the browser and attaches to every page target matching
// the tab URL filter.
func (c *Client) Connect(ctx context.Context) error {
	cdpURL := c.cfg.GetCDPURL()
	slog.Info("connecting to browser", "url", cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)

	tempCtx, tempCancel := chromedp.NewContext(c.allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return fmt.Errorf("cdp: connect: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return fmt.Errorf("cdp: enumerate targets: %w", err)
	}

	attached := 0
	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if !c.matchesTabURL(t.URL) {
			slog.Debug("skipping tab (url filter)", "url", t.URL)
			continue
		}
		if err := c.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("failed to attach to tab", "target_id", t.TargetID, "url", t.URL, "error", err)
			continue
		}
		attached++
	}

	if attached == 0 {
		return fmt.Errorf("cdp: no tabs match X402_TAB_URL_FILTER=%q", c.cfg.TabURLFilter)
	}

	slog.Info("attached to tabs", "count", attached, "tab_url_filter", c.cfg.TabURLFilter)
	return nil
}

// attachToTab enables the needed domains, registers the page bridge
// binding, installs the interceptor for future documents, and hooks the
// event stream.
func (c *Client) attachToTab(targetID target.ID, url string) error {
	c.registry.Register(targetID, url)

	tabCtx, tabCancel := chromedp.NewContext(c.allocCtx, chromedp.WithTargetID(targetID))
	tab := &TabContext{ID: targetID, ctx: tabCtx, cancel: tabCancel}

	c.tabsMu.Lock()
	c.tabs[targetID] = tab
	c.tabsMu.Unlock()

	script := capture.InterceptorScript(bridge.BindingName, c.bridge.Token())

	err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetCacheDisabled(true),
		page.Enable(),
		runtime.Enable(),
		runtime.AddBinding(bridge.BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
	)
	if err != nil {
		tabCancel()
		c.registry.Remove(targetID)
		c.tabsMu.Lock()
		delete(c.tabs, targetID)
		c.tabsMu.Unlock()
		return fmt.Errorf("cdp: enable domains: %w", err)
	}

	chromedp.ListenTarget(tabCtx, c.createEventHandler(targetID))
	slog.Info("attached to tab", "target_id", targetID, "url", truncateURL(url))

	if c.cfg.ReloadOnAttach {
		// New-document scripts only take effect from the next
		// navigation, so reload to hook the current page too.
		reloadCtx, reloadCancel := context.WithTimeout(tabCtx, 30*time.Second)
		defer reloadCancel()
		if err := chromedp.Run(reloadCtx, chromedp.Reload()); err != nil {
			slog.Warn("failed to reload tab (continuing)", "target_id", targetID, "error", err)
		}
	} else {
		// Hook the already-loaded document directly and give the
		// embedded scanner its first pass.
		if err := c.EvaluateInTab(tabCtx, string(targetID), script); err != nil {
			slog.Warn("failed to install interceptor in live page", "target_id", targetID, "error", err)
		}
		c.scanner.ScanAfterLoad(tabCtx, string(targetID), url)
	}

	return nil
}

func (c *Client) createEventHandler(targetID target.ID) func(ev any) {
	tabID := string(targetID)
	return func(ev any) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				c.registry.Register(targetID, e.Frame.URL)
			}
		case *page.EventNavigatedWithinDocument:
			c.registry.Register(targetID, e.URL)
		case *page.EventLoadEventFired:
			tab, ok := c.getTab(targetID)
			if ok {
				c.scanner.ScanAfterLoad(tab.ctx, tabID, c.registry.URL(targetID))
			}
		case *runtime.EventBindingCalled:
			c.bridge.HandleBindingCalled(tabID, c.registry.URL(targetID), e.Name, e.Payload)
		case *network.EventRequestWillBeSent:
			c.observer.OnRequestWillBeSent(e)
		case *network.EventResponseReceived:
			c.observer.OnResponseReceived(tabID, c.registry.URL(targetID), e)
		case *network.EventLoadingFailed:
			c.observer.OnLoadingFailed(e)
		}
	}
}

func (c *Client) getTab(targetID target.ID) (*TabContext, bool) {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	tab, ok := c.tabs[targetID]
	return tab, ok
}

// withEvalTimeout derives an evaluation context from the tab's lifetime
// while still honoring the caller's cancellation. chromedp actions must
// run on a context descended from the tab's, so the caller's context
// cannot be the parent directly.
func withEvalTimeout(tabCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	evalCtx, cancel := context.WithTimeout(tabCtx, 10*time.Second)
	stop := context.AfterFunc(callerCtx, cancel)
	return evalCtx, func() {
		stop()
		cancel()
	}
}

// EvaluateInTab runs a JS statement in the given tab, discarding the
// result. Used by the bridge for basket-update delivery.
func (c *Client) EvaluateInTab(ctx context.Context, tabID, js string) error {
	tab, ok := c.getTab(target.ID(tabID))
	if !ok {
		return fmt.Errorf("cdp: no attached tab %s", tabID)
	}

	evalCtx, cancel := withEvalTimeout(tab.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(js, nil)); err != nil {
		return fmt.Errorf("cdp: evaluate in tab %s: %w", tabID, err)
	}
	return nil
}

// EvaluateJSON runs a JS expression in the given tab and returns its
// string result. Used by the embedded scanner.
func (c *Client) EvaluateJSON(ctx context.Context, tabID, js string) (string, error) {
	tab, ok := c.getTab(target.ID(tabID))
	if !ok {
		return "", fmt.Errorf("cdp: no attached tab %s", tabID)
	}

	evalCtx, cancel := withEvalTimeout(tab.ctx, ctx)
	defer cancel()
	var result string
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(js, &result)); err != nil {
		return "", fmt.Errorf("cdp: evaluate in tab %s: %w", tabID, err)
	}
	return result, nil
}

// Close detaches from all tabs.
func (c *Client) Close() error {
	c.tabsMu.Lock()
	for id, tab := range c.tabs {
		tab.cancel()
		delete(c.tabs, id)
	}
	c.tabsMu.Unlock()

	if c.allocCancel != nil {
		c.allocCancel()
	}

	slog.Info("cdp client closed")
	return nil
}

// TabCount reports how many tabs are attached.
func (c *Client) TabCount() int {
	c.tabsMu.RLock()
	defer c.tabsMu.RUnlock()
	return len(c.tabs)
}

func (c *Client) matchesTabURL(url string) bool {
	if c.cfg.TabURLFilter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(c.cfg.TabURLFilter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
