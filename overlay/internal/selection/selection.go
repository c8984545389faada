// Package selection implements the manual pick mode: Alt+S arms it, the next
// primary click hides whatever was clicked, Escape cancels.
package selection

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/unveil/dom"
)

const (
	// BannerID is the id of the instruction banner shown while active.
	BannerID = "unveil-selection-message"
	// ModeClass is added to body while active.
	ModeClass = "unveil-selection-mode"
	// SuccessClass marks the transient confirmation shown after a pick.
	SuccessClass = "unveil-success-message"
)

const bannerStyle = "position: fixed; top: 20px; left: 50%; transform: translateX(-50%); " +
	"background: #333; color: #fff; padding: 12px 20px; border-radius: 8px; " +
	"font: 14px Arial, sans-serif; z-index: 1000000; transition: opacity 0.3s ease;"

const successStyle = "position: fixed; top: 20px; right: 20px; background: #4CAF50; color: #fff; " +
	"padding: 8px 12px; border-radius: 4px; font: 13px Arial, sans-serif; z-index: 1000000;"

// Config configures a Controller.
type Config struct {
	// BannerFade is the delay before the banner dims to 0.7. Default: 3s.
	BannerFade time.Duration
	// SuccessLinger is how long the confirmation stays. Default: 2s.
	SuccessLinger time.Duration
	// After runs fn on the owner's goroutine once d has elapsed.
	// Default: time.AfterFunc.
	After  func(d time.Duration, fn func())
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.BannerFade <= 0 {
		c.BannerFade = 3 * time.Second
	}
	if c.SuccessLinger <= 0 {
		c.SuccessLinger = 2 * time.Second
	}
	if c.After == nil {
		c.After = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Controller is the Inactive/Active state machine. It is driven from the
// engine loop and is not safe for concurrent use.
type Controller struct {
	doc    dom.Document
	cfg    Config
	remove func(dom.Element) bool

	active     bool
	epoch      int
	banner     dom.Element
	indicators []dom.Element
	cursor     string
}

// New returns an inactive controller. remove hides a picked element without
// classifying it and reports whether anything was hidden.
func New(doc dom.Document, cfg Config, remove func(dom.Element) bool) *Controller {
	cfg.defaults()
	return &Controller{doc: doc, cfg: cfg, remove: remove}
}

func (c *Controller) Active() bool { return c.active }

// Toggle flips the mode and reports the new state.
func (c *Controller) Toggle() bool {
	if c.active {
		c.Deactivate()
	} else {
		c.Activate()
	}
	return c.active
}

// Activate arms click capture and shows the banner. No-op when active.
func (c *Controller) Activate() bool {
	if c.active {
		return false
	}
	body := c.doc.Body()
	if body == nil {
		return false
	}
	c.active = true
	c.epoch++
	c.doc.CaptureClicks(true)

	c.cursor = body.InlineStyle("cursor")
	body.SetInlineStyle("cursor", "crosshair")
	body.AddClass(ModeClass)

	c.banner = c.doc.CreateElement("div")
	c.banner.SetAttr("id", BannerID)
	c.banner.SetAttr(dom.UIAttr, "banner")
	c.banner.SetAttr("style", bannerStyle)
	c.banner.SetTextContent("Selection mode active. Click on any element to remove it. Press Esc to cancel.")
	body.AppendChild(c.banner)

	epoch, banner := c.epoch, c.banner
	c.cfg.After(c.cfg.BannerFade, func() {
		if c.active && c.epoch == epoch && dom.Same(c.banner, banner) {
			banner.SetInlineStyle("opacity", "0.7")
		}
	})
	c.cfg.Logger.Debug("selection: active", "url", c.doc.URL())
	return true
}

// Deactivate removes the banner immediately and restores the cursor.
// No-op when inactive.
func (c *Controller) Deactivate() bool {
	if !c.active {
		return false
	}
	c.active = false
	c.epoch++
	c.doc.CaptureClicks(false)
	if body := c.doc.Body(); body != nil {
		body.SetInlineStyle("cursor", c.cursor)
		body.RemoveClass(ModeClass)
	}
	if c.banner != nil {
		c.banner.Remove()
		c.banner = nil
	}
	c.cfg.Logger.Debug("selection: inactive", "url", c.doc.URL())
	return true
}

// Close deactivates and drops any lingering confirmation.
func (c *Controller) Close() {
	c.Deactivate()
	for _, el := range c.indicators {
		el.Remove()
	}
	c.indicators = nil
}

// HandleInput consumes the shortcut keys and captured clicks. It reports
// whether the input was for the controller.
func (c *Controller) HandleInput(in dom.Input) bool {
	switch in.Kind {
	case dom.KeyDown:
		switch {
		case in.Alt && strings.EqualFold(in.Key, "s"):
			c.Toggle()
			return true
		case in.Key == "Escape" && c.active:
			c.Deactivate()
			return true
		}
	case dom.Click:
		if !c.active || in.Button != 0 || in.Target == nil {
			return false
		}
		if dom.IsUI(in.Target) {
			return true
		}
		c.pick(in.Target)
		return true
	}
	return false
}

func (c *Controller) pick(el dom.Element) {
	rect, ok := el.BoundingRect()
	if c.remove(el) {
		c.showSuccess(rect, ok)
	}
	c.Deactivate()
}

func (c *Controller) showSuccess(rect dom.Rect, ok bool) {
	body := c.doc.Body()
	if body == nil {
		return
	}
	msg := c.doc.CreateElement("div")
	msg.SetAttr("class", SuccessClass)
	msg.SetAttr(dom.UIAttr, "success")
	msg.SetAttr("style", successStyle)
	msg.SetTextContent("Element removed successfully!")
	if ok && rect.Top > 0 && rect.Left > 0 {
		vp := c.doc.Viewport()
		msg.SetInlineStyle("position", "absolute")
		msg.SetInlineStyle("right", "")
		msg.SetInlineStyle("top", px(rect.Top+vp.ScrollY-50))
		msg.SetInlineStyle("left", px(rect.Left+vp.ScrollX))
	}
	body.AppendChild(msg)
	c.indicators = append(c.indicators, msg)

	c.cfg.After(c.cfg.SuccessLinger, func() {
		msg.Remove()
		for i, el := range c.indicators {
			if dom.Same(el, msg) {
				c.indicators = append(c.indicators[:i], c.indicators[i+1:]...)
				break
			}
		}
	})
}

func px(v float64) string {
	return fmt.Sprintf("%gpx", v)
}
