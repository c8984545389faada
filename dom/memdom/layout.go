package memdom

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/unveil/dom"
)

// rectLocked returns the pinned rect of n, a zero rect when n is not
// rendered, or an estimate for fixed and absolute boxes. Flow layout is not
// modelled: static boxes without a pinned rect report ok=false.
func (d *Document) rectLocked(n *html.Node) (dom.Rect, bool) {
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if d.computedLocked(p, "display") == "none" {
			return dom.Rect{}, true
		}
	}
	if r, ok := d.rects[n]; ok {
		return r, true
	}
	pos := d.computedLocked(n, "position")
	if pos != "fixed" && pos != "absolute" {
		return dom.Rect{}, false
	}
	vw, vh := d.vp.Width, d.vp.Height
	left, hasL := d.lengthLocked(n, "left", vw)
	right, hasR := d.lengthLocked(n, "right", vw)
	top, hasT := d.lengthLocked(n, "top", vh)
	bottom, hasB := d.lengthLocked(n, "bottom", vh)
	width, hasW := d.lengthLocked(n, "width", vw)
	height, hasH := d.lengthLocked(n, "height", vh)

	if !hasW && hasL && hasR {
		width = vw - left - right
	}
	if !hasH && hasT && hasB {
		height = vh - top - bottom
	}
	if !hasL && hasR {
		left = vw - right - width
	}
	if !hasT && hasB {
		top = vh - bottom - height
	}
	return dom.Rect{Left: left, Top: top, Width: max(width, 0), Height: max(height, 0)}, true
}

// lengthLocked parses px, %, vw and vh lengths; base is the reference for %.
func (d *Document) lengthLocked(n *html.Node, prop string, base float64) (float64, bool) {
	v, ok := d.cascadeLocked(n, prop)
	if !ok {
		return 0, false
	}
	v = strings.ToLower(strings.TrimSpace(v))
	var unit float64
	switch {
	case v == "" || v == "auto":
		return 0, false
	case strings.HasSuffix(v, "px"):
		v, unit = strings.TrimSuffix(v, "px"), 1
	case strings.HasSuffix(v, "%"):
		v, unit = strings.TrimSuffix(v, "%"), base/100
	case strings.HasSuffix(v, "vw"):
		v, unit = strings.TrimSuffix(v, "vw"), d.vp.Width/100
	case strings.HasSuffix(v, "vh"):
		v, unit = strings.TrimSuffix(v, "vh"), d.vp.Height/100
	default:
		unit = 1
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f * unit, true
}

// ElementFromPoint returns the rendered element under the client point with
// the highest z-index, later elements winning ties. Falls back to body when
// the point is inside the viewport.
func (d *Document) ElementFromPoint(x, y float64) dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	if x < 0 || y < 0 || x >= d.vp.Width || y >= d.vp.Height {
		return nil
	}
	var best *html.Node
	bestZ := 0
	walk(d.root, func(n *html.Node) bool {
		r, ok := d.rectLocked(n)
		if !ok || !r.Contains(x, y) {
			return true
		}
		if d.computedLocked(n, "visibility") == "hidden" || d.computedLocked(n, "pointer-events") == "none" {
			return true
		}
		z := d.zLocked(n)
		if best == nil || z >= bestZ {
			best, bestZ = n, z
		}
		return true
	})
	if best == nil {
		best = d.bodyNode()
	}
	return d.wrapLocked(best)
}

// zLocked returns the effective stacking order of n: its own z-index or the
// nearest positioned ancestor's.
func (d *Document) zLocked(n *html.Node) int {
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if z, err := strconv.Atoi(d.computedLocked(p, "z-index")); err == nil {
			return z
		}
	}
	return 0
}
