package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab is one supervised page of the managed browser.
type Tab struct {
	Page   *rod.Page
	ID     string
	router *rod.HijackRouter
}

// TabOptions describes the page to open.
type TabOptions struct {
	ID  string
	URL string
	// Stealth opens the tab through go-rod/stealth so the page sees no
	// automation markers.
	Stealth bool
	// NavTimeout bounds navigation and load. Default: 30s.
	NavTimeout time.Duration
}

// OpenTab navigates a new tab to opts.URL. Only a navigation failure is an
// error; a slow load is logged since overlays tend to arrive late anyway.
func OpenTab(ctx context.Context, mgr *Manager, opts TabOptions) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: open tab %s: no browser", opts.ID)
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}

	var (
		page *rod.Page
		err  error
	)
	if opts.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: open tab %s: %w", opts.ID, err)
	}
	tab := &Tab{Page: page, ID: opts.ID, router: applyResourceBlocking(page, mgr.cfg.ResourceBlocking)}

	navCtx, cancel := context.WithTimeout(ctx, opts.NavTimeout)
	defer cancel()
	nav := page.Context(navCtx)
	if err := nav.Navigate(opts.URL); err != nil {
		tab.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", opts.URL, err)
	}
	if err := nav.WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: page load incomplete", "page", opts.ID, "url", opts.URL, "error", err)
	}
	return tab, nil
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
	}
	if t.Page == nil {
		return nil
	}
	if err := t.Page.Close(); err != nil {
		return fmt.Errorf("browser: close tab %s: %w", t.ID, err)
	}
	return nil
}
