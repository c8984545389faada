package overlay

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/unveil/dom"
	"github.com/hazyhaar/unveil/dom/roddom"
	"github.com/hazyhaar/unveil/overlay/internal/browser"
)

// chromeOpener opens supervised pages as tabs of the managed browser.
type chromeOpener struct {
	mgr    *browser.Manager
	logger *slog.Logger
}

type chromePage struct {
	tab *browser.Tab
	doc *roddom.Document
}

func (p *chromePage) Document() dom.Document { return p.doc }

func (p *chromePage) Close() error {
	p.doc.Close()
	return p.tab.Close()
}

func (o *chromeOpener) Open(ctx context.Context, p Page) (PageHandle, error) {
	tab, err := browser.OpenTab(ctx, o.mgr, browser.TabOptions{ID: p.ID, URL: p.URL, Stealth: p.Stealth})
	if err != nil {
		return nil, err
	}
	// Binding delivery must outlive the request that opened the page.
	doc, err := roddom.Attach(context.WithoutCancel(ctx), tab.Page, roddom.Options{
		Logger: o.logger.With("page", p.ID),
	})
	if err != nil {
		tab.Close()
		return nil, err
	}
	return &chromePage{tab: tab, doc: doc}, nil
}
