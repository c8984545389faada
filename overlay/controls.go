package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/unveil/kit"
)

// ErrInvalidRequest marks a malformed control request.
var ErrInvalidRequest = errors.New("overlay: invalid request")

// Requests accepted by the control endpoints. HTTP takes the page ID from
// the path; MCP from the arguments.
type (
	pageRequest struct {
		PageID string `json:"page_id"`
	}
	whitelistRequest struct {
		PageID string `json:"page_id"`
		Domain string `json:"domain"`
	}
	pointRequest struct {
		PageID string  `json:"page_id"`
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
	}
	idRequest struct {
		PageID string `json:"page_id"`
		ID     string `json:"id"`
	}
)

func (r *pageRequest) PageScope() string      { return r.PageID }
func (r *whitelistRequest) PageScope() string { return r.PageID }
func (r *pointRequest) PageScope() string     { return r.PageID }
func (r *idRequest) PageScope() string        { return r.PageID }

// ToggleResult reports the enabled flag after a toggle.
type ToggleResult struct {
	PageID  string `json:"page_id"`
	Enabled bool   `json:"enabled"`
}

// WhitelistResult reports whether the page is now whitelisted.
type WhitelistResult struct {
	PageID      string `json:"page_id"`
	Whitelisted bool   `json:"whitelisted"`
}

// SelectionResult reports whether selection mode is active.
type SelectionResult struct {
	PageID string `json:"page_id"`
	Active bool   `json:"active"`
}

// controls binds the inbound commands to a supervisor as kit endpoints.
type controls struct {
	sup *Supervisor

	toggle        kit.Endpoint
	whitelist     kit.Endpoint
	removeAtPoint kit.Endpoint
	removeByID    kit.Endpoint
	restore       kit.Endpoint
	selection     kit.Endpoint
	stats         kit.Endpoint
	pages         kit.Endpoint
}

func newControls(sup *Supervisor, logger *slog.Logger) *controls {
	c := &controls{sup: sup}
	wrap := func(name string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(kit.ScopePage, kit.Logging(logger, name))(ep)
	}
	c.toggle = wrap("toggle", c.doToggle)
	c.whitelist = wrap("whitelist", c.doWhitelist)
	c.removeAtPoint = wrap("remove_at_point", c.doRemoveAtPoint)
	c.removeByID = wrap("remove_by_id", c.doRemoveByID)
	c.restore = wrap("restore_all", c.doRestore)
	c.selection = wrap("toggle_selection", c.doSelection)
	c.stats = wrap("stats", c.doStats)
	c.pages = wrap("pages", c.doPages)
	return c
}

func (c *controls) engine(pageID string) (*Engine, error) {
	if pageID == "" {
		return nil, fmt.Errorf("%w: page_id is required", ErrInvalidRequest)
	}
	return c.sup.Engine(pageID)
}

func (c *controls) doToggle(ctx context.Context, req any) (any, error) {
	r := req.(*pageRequest)
	eng, err := c.engine(r.PageID)
	if err != nil {
		return nil, err
	}
	on, err := eng.Toggle(ctx)
	if err != nil {
		return nil, err
	}
	return ToggleResult{PageID: r.PageID, Enabled: on}, nil
}

func (c *controls) doWhitelist(ctx context.Context, req any) (any, error) {
	r := req.(*whitelistRequest)
	eng, err := c.engine(r.PageID)
	if err != nil {
		return nil, err
	}
	wl, err := eng.SiteWhitelisted(ctx, r.Domain)
	if err != nil {
		return nil, err
	}
	return WhitelistResult{PageID: r.PageID, Whitelisted: wl}, nil
}

func (c *controls) doRemoveAtPoint(ctx context.Context, req any) (any, error) {
	r := req.(*pointRequest)
	eng, err := c.engine(r.PageID)
	if err != nil {
		return nil, err
	}
	return eng.RemoveOverlayAtPoint(ctx, r.X, r.Y)
}

func (c *controls) doRemoveByID(ctx context.Context, req any) (any, error) {
	r := req.(*idRequest)
	if r.ID == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidRequest)
	}
	eng, err := c.engine(r.PageID)
	if err != nil {
		return nil, err
	}
	return eng.RemoveElementByID(ctx, r.ID)
}

func (c *controls) doRestore(ctx context.Context, req any) (any, error) {
	eng, err := c.engine(req.(*pageRequest).PageID)
	if err != nil {
		return nil, err
	}
	return eng.RestoreAll(ctx)
}

func (c *controls) doSelection(ctx context.Context, req any) (any, error) {
	r := req.(*pageRequest)
	eng, err := c.engine(r.PageID)
	if err != nil {
		return nil, err
	}
	on, err := eng.ToggleSelection(ctx)
	if err != nil {
		return nil, err
	}
	return SelectionResult{PageID: r.PageID, Active: on}, nil
}

func (c *controls) doStats(ctx context.Context, req any) (any, error) {
	eng, err := c.engine(req.(*pageRequest).PageID)
	if err != nil {
		return nil, err
	}
	return eng.Stats(ctx)
}

func (c *controls) doPages(_ context.Context, _ any) (any, error) {
	return c.sup.Pages(), nil
}
