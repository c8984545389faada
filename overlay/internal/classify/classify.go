// Package classify turns extracted signals into overlay and backdrop verdicts.
package classify

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/unveil/dom"
	"github.com/hazyhaar/unveil/overlay/internal/signals"
)

// Config holds the classifier thresholds. CustomSelectors must already be
// validated; selectors that fail to parse never match.
type Config struct {
	MinZIndex int
	// CoverageThreshold is a percentage of the viewport.
	CoverageThreshold int
	CustomSelectors   []string
}

// DefaultConfig matches the stored settings defaults.
func DefaultConfig() Config {
	return Config{MinZIndex: 900, CoverageThreshold: 80}
}

// Verdict is consumed immediately by the caller.
type Verdict struct {
	Overlay bool
	Reason  string
}

// IsOverlay is the AND of the positioning, prominence and intent gates.
func IsOverlay(s signals.Signals, cfg Config) bool {
	return positioned(s) && prominent(s, cfg) && intrusive(s)
}

func positioned(s signals.Signals) bool {
	return s.Position == "fixed" || s.Position == "absolute"
}

func prominent(s signals.Signals, cfg Config) bool {
	limit := float64(cfg.CoverageThreshold) / 100
	return s.ZIndex > cfg.MinZIndex || s.WidthRatio > limit || s.HeightRatio > limit
}

func intrusive(s signals.Signals) bool {
	return s.TextSignals || s.IdentifierSignals || BlocksInteraction(s)
}

// BlocksInteraction is a box that spans the viewport and paints something.
func BlocksInteraction(s signals.Signals) bool {
	return s.CoversViewport && s.HasBackground
}

// IsBackdrop is the looser rule applied to siblings of a confirmed overlay.
func IsBackdrop(el dom.Element) bool {
	if el == nil {
		return false
	}
	ident := signals.ClassName(el) + " " + signals.ID(el)
	if strings.Contains(ident, "backdrop") || strings.Contains(ident, "overlay") {
		return true
	}
	c, ok := dom.ParseColor(el.ComputedStyle("background-color"))
	if !ok || c.R != 0 || c.G != 0 || c.B != 0 {
		return false
	}
	return c.A == 1 || c.A == 0.5
}

// MatchCustom returns the first custom selector el matches.
func MatchCustom(el dom.Element, selectors []string) (string, bool) {
	if el == nil {
		return "", false
	}
	for _, sel := range selectors {
		if el.Matches(sel) {
			return sel, true
		}
	}
	return "", false
}

// Classifier binds a Config. It is owned by a single engine loop and is not
// safe for concurrent use.
type Classifier struct {
	cfg Config
}

func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

func (c *Classifier) Config() Config { return c.cfg }

// SetConfig replaces thresholds and selectors.
func (c *Classifier) SetConfig(cfg Config) { c.cfg = cfg }

// Classify evaluates el. Custom selectors are checked first and bypass the
// heuristic.
func (c *Classifier) Classify(el dom.Element, vp dom.Viewport) Verdict {
	if el == nil {
		return Verdict{}
	}
	if sel, ok := MatchCustom(el, c.cfg.CustomSelectors); ok {
		return Verdict{Overlay: true, Reason: "custom selector " + sel}
	}
	s := signals.Extract(el, vp)
	if !IsOverlay(s, c.cfg) {
		return Verdict{}
	}
	return Verdict{Overlay: true, Reason: reason(s)}
}

func reason(s signals.Signals) string {
	var why []string
	if s.TextSignals {
		why = append(why, "text")
	}
	if s.IdentifierSignals {
		why = append(why, "identifier")
	}
	if BlocksInteraction(s) {
		why = append(why, "blocks")
	}
	return fmt.Sprintf("%s z=%d coverage=%.0f%%x%.0f%% [%s]",
		s.Position, s.ZIndex, s.WidthRatio*100, s.HeightRatio*100, strings.Join(why, ","))
}
