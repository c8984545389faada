package overlay

import (
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/unveil/kit"
)

var pageIDProp = map[string]any{"type": "string", "description": "Supervised page ID"}

// RegisterMCP registers the unveil_* tools for sup on srv.
func RegisterMCP(srv *mcp.Server, sup *Supervisor, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	c := newControls(sup, logger)

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "unveil_pages",
		Description: "List supervised pages.",
		InputSchema: kit.ObjectSchema(map[string]any{}),
	}, c.pages, kit.DecodeJSON[pageRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "unveil_toggle",
		Description: "Flip overlay removal on or off for a page. Turning it off restores everything hidden.",
		InputSchema: kit.ObjectSchema(map[string]any{"page_id": pageIDProp}, "page_id"),
	}, c.toggle, kit.DecodeJSON[pageRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "unveil_whitelist_site",
		Description: "Mark the page's site as whitelisted: stop watching it and restore everything hidden. A domain other than the page host is ignored.",
		InputSchema: kit.ObjectSchema(map[string]any{
			"page_id": pageIDProp,
			"domain":  map[string]any{"type": "string", "description": "Hostname; empty means the page host"},
		}, "page_id"),
	}, c.whitelist, kit.DecodeJSON[whitelistRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "unveil_remove_at_point",
		Description: "Hide the overlay under a page coordinate, searching ancestors when the hit element is not one. In selection mode the hit element is hidden unconditionally.",
		InputSchema: kit.ObjectSchema(map[string]any{
			"page_id": pageIDProp,
			"x":       map[string]any{"type": "number", "description": "Page X (document coordinates)"},
			"y":       map[string]any{"type": "number", "description": "Page Y (document coordinates)"},
		}, "page_id", "x", "y"),
	}, c.removeAtPoint, kit.DecodeJSON[pointRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "unveil_remove_by_id",
		Description: "Hide the element with the given DOM id, plus its backdrops.",
		InputSchema: kit.ObjectSchema(map[string]any{
			"page_id": pageIDProp,
			"id":      map[string]any{"type": "string", "description": "DOM element id"},
		}, "page_id", "id"),
	}, c.removeByID, kit.DecodeJSON[idRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "unveil_restore_all",
		Description: "Restore every element hidden on the page.",
		InputSchema: kit.ObjectSchema(map[string]any{"page_id": pageIDProp}, "page_id"),
	}, c.restore, kit.DecodeJSON[pageRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "unveil_toggle_selection",
		Description: "Enter or leave selection mode: the next click hides the clicked element.",
		InputSchema: kit.ObjectSchema(map[string]any{"page_id": pageIDProp}, "page_id"),
	}, c.selection, kit.DecodeJSON[pageRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "unveil_stats",
		Description: "Current counters for a page: hidden elements by source, enabled, whitelisted, selection mode.",
		InputSchema: kit.ObjectSchema(map[string]any{"page_id": pageIDProp}, "page_id"),
	}, c.stats, kit.DecodeJSON[pageRequest]())
}
