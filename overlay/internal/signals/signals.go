// Package signals extracts the geometric, style and textual evidence the
// classifier scores. Extraction only reads the document.
package signals

import (
	"strconv"
	"strings"

	"github.com/hazyhaar/unveil/dom"
)

// Keywords are matched against the lower-cased text content.
var Keywords = []string{
	"disable adblock",
	"turn off adblock",
	"subscribe now",
	"sign up",
	"newsletter",
	"paywall",
	"premium content",
	"accept cookies",
	"cookie consent",
	"privacy policy",
	"continue reading",
	"unlock content",
	"free trial",
	"limited time",
	"exclusive access",
}

// Identifiers are matched against the lower-cased class and id.
var Identifiers = []string{
	"overlay", "modal", "popup", "dialog", "lightbox", "backdrop", "blocker",
	"paywall", "subscription", "newsletter", "signup", "adblock", "cookie",
	"consent", "gdpr", "banner", "notice",
}

// Signals is recomputed on every evaluation.
type Signals struct {
	WidthRatio        float64
	HeightRatio       float64
	ZIndex            int
	Position          string
	CoversViewport    bool
	HasBackground     bool
	TextSignals       bool
	IdentifierSignals bool
}

// Extract reads el against viewport vp. A nil element yields zero signals.
func Extract(el dom.Element, vp dom.Viewport) Signals {
	var s Signals
	if el == nil {
		return s
	}
	s.Position = strings.ToLower(strings.TrimSpace(el.ComputedStyle("position")))
	s.ZIndex = ParseZIndex(el.ComputedStyle("z-index"))
	s.HasBackground = HasBackground(el)

	if r, ok := el.BoundingRect(); ok {
		if vp.Width > 0 {
			s.WidthRatio = r.Width / vp.Width
		}
		if vp.Height > 0 {
			s.HeightRatio = r.Height / vp.Height
		}
		s.CoversViewport = vp.Width > 0 && vp.Height > 0 &&
			r.Left <= 0 && r.Top <= 0 && r.Right() >= vp.Width && r.Bottom() >= vp.Height
	}

	s.TextSignals = containsAny(strings.ToLower(el.TextContent()), Keywords)
	s.IdentifierSignals = containsAny(ClassName(el)+" "+ID(el), Identifiers)
	return s
}

// ParseZIndex returns the integer prefix of v, 0 for "auto" or garbage.
func ParseZIndex(v string) int {
	v = strings.TrimSpace(v)
	end := 0
	for end < len(v) && (v[end] == '-' && end == 0 || v[end] >= '0' && v[end] <= '9') {
		end++
	}
	n, err := strconv.Atoi(v[:end])
	if err != nil {
		return 0
	}
	return n
}

// HasBackground reports a visible background colour or any background image.
func HasBackground(el dom.Element) bool {
	if c, ok := dom.ParseColor(el.ComputedStyle("background-color")); ok && !c.Transparent() {
		return true
	}
	img := strings.TrimSpace(el.ComputedStyle("background-image"))
	return img != "" && img != "none"
}

// ClassName returns the lower-cased class string, falling back to the class
// attribute when the property is not a plain string.
func ClassName(el dom.Element) string {
	if el == nil {
		return ""
	}
	if v, ok := el.ClassName(); ok {
		return strings.ToLower(v)
	}
	v, _ := el.Attr("class")
	return strings.ToLower(v)
}

// ID returns the lower-cased id with the same fallback as ClassName.
func ID(el dom.Element) string {
	if el == nil {
		return ""
	}
	if v, ok := el.ElementID(); ok {
		return strings.ToLower(v)
	}
	v, _ := el.Attr("id")
	return strings.ToLower(v)
}

func containsAny(s string, needles []string) bool {
	if s == "" {
		return false
	}
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
