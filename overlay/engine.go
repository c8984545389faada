// Package overlay finds intrusive overlays on a page (modals, paywalls,
// cookie walls, subscription prompts), hides them reversibly and restores
// them on demand.
//
// An Engine drives one dom.Document. Every state change runs on the
// engine's loop goroutine (Run); public methods post work to the loop and
// wait for the result. DOM notifications are queued without blocking.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/unveil/dom"
	"github.com/hazyhaar/unveil/idgen"
	"github.com/hazyhaar/unveil/overlay/events"
	"github.com/hazyhaar/unveil/overlay/internal/classify"
	"github.com/hazyhaar/unveil/overlay/internal/config"
	"github.com/hazyhaar/unveil/overlay/internal/ledger"
	"github.com/hazyhaar/unveil/overlay/internal/selection"
	"github.com/hazyhaar/unveil/overlay/internal/watcher"
)

// RestoreButtonID is the id of the floating restore control.
const RestoreButtonID = "unveil-restore-btn"

const restoreButtonStyle = "position: fixed; top: 10px; right: 10px; background: #4CAF50; color: #fff; " +
	"padding: 8px 12px; border-radius: 4px; font: 12px Arial, sans-serif; cursor: pointer; " +
	"z-index: 999999; display: none; box-shadow: 0 2px 5px rgba(0,0,0,0.2);"

var (
	// ErrClosed is returned by calls made after Run has returned.
	ErrClosed = errors.New("overlay: engine closed")
	// ErrRunning is returned by a second call to Run.
	ErrRunning = errors.New("overlay: engine already running")
)

// SettingsSource supplies the settings record and the whitelist verdict for
// a hostname. Calls happen off the engine loop.
type SettingsSource interface {
	GetSettings(ctx context.Context) (config.Settings, error)
	IsWhitelisted(ctx context.Context, host string) (bool, error)
}

// Options configures an Engine.
type Options struct {
	// PageID identifies the page in emitted events.
	PageID string
	// Source is required.
	Source SettingsSource
	// Sink receives Stats and RestoreAvailable events. Nil disables events.
	Sink Sink
	// IDs generates ledger record and event IDs. Default: idgen.Default.
	IDs idgen.Generator
	// Now is the clock. Default: time.Now.
	Now func() time.Time
	// After schedules fn after d. The engine moves fn onto its loop.
	// Default: time.AfterFunc.
	After         func(d time.Duration, fn func())
	BannerFade    time.Duration
	SuccessLinger time.Duration
	Logger        *slog.Logger
}

func (o *Options) defaults() {
	if o.IDs == nil {
		o.IDs = idgen.Default
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.After == nil {
		o.After = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Removal reports the outcome of a hide command.
type Removal struct {
	Removed   bool   `json:"removed"`
	RecordID  string `json:"record_id,omitempty"`
	Tag       string `json:"tag,omitempty"`
	Source    string `json:"source,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Backdrops int    `json:"backdrops"`
}

// RestoreResult reports the outcome of RestoreAll.
type RestoreResult struct {
	Restored int `json:"restored"`
	Detached int `json:"detached"`
}

// Engine is the per-page orchestrator.
type Engine struct {
	doc    dom.Document
	opts   Options
	host   string
	logger *slog.Logger

	in      *queue
	out     *queue
	running atomic.Bool
	done    chan struct{}
	halt    chan struct{}
	// emitCtx outlives Run's context so queued events still go out.
	emitCtx context.Context

	// Loop-owned state.
	settings    config.Settings
	loaded      bool
	enabled     bool
	whitelisted bool
	live        bool
	// gen advances on every state change; a settings response fetched
	// under an older generation is dropped.
	gen        uint64
	classifier *classify.Classifier
	ledger     *ledger.Ledger
	watcher    *watcher.Watcher
	selection  *selection.Controller
	restoreBtn dom.Element
	input      dom.Subscription
	// spared holds elements restored while live; the automatic path leaves
	// them alone until their class or id changes or the engine goes live
	// again.
	spared    map[string]bool
	dirty     bool
	available bool
	seq       uint64
}

// NewEngine binds an engine to doc. Call Run to start its loop, then Start.
func NewEngine(doc dom.Document, opts Options) (*Engine, error) {
	if doc == nil {
		return nil, fmt.Errorf("overlay: new engine: nil document")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("overlay: new engine: nil settings source")
	}
	opts.defaults()

	e := &Engine{
		doc:        doc,
		opts:       opts,
		host:       hostname(doc.URL()),
		logger:     opts.Logger.With("page", opts.PageID),
		in:         newQueue(),
		out:        newQueue(),
		done:       make(chan struct{}),
		halt:       make(chan struct{}),
		settings:   config.Defaults(),
		enabled:    true,
		classifier: classify.New(classify.DefaultConfig()),
		spared:     make(map[string]bool),
	}
	e.ledger = ledger.New(doc, ledger.Config{IDs: opts.IDs, Now: opts.Now, Logger: e.logger})
	e.watcher = watcher.New(doc, watcher.Config{
		Schedule: e.post,
		Skip:     dom.IsUI,
		Changed:  e.unspare,
		Logger:   e.logger,
	}, e.handleBatch)
	e.selection = selection.New(doc, selection.Config{
		BannerFade:    opts.BannerFade,
		SuccessLinger: opts.SuccessLinger,
		After:         func(d time.Duration, fn func()) { opts.After(d, func() { e.post(fn) }) },
		Logger:        e.logger,
	}, e.pick)
	return e, nil
}

func hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Host is the page hostname used for whitelist checks.
func (e *Engine) Host() string { return e.host }

// PageID returns the identifier carried by emitted events.
func (e *Engine) PageID() string { return e.opts.PageID }

// Document returns the page the engine drives.
func (e *Engine) Document() dom.Document { return e.doc }

// Done is closed when Run returns, after queued events are delivered.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) post(fn func()) { e.in.push(fn) }

// Run executes the loop until ctx is cancelled. Hidden elements stay hidden
// when Run returns.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	e.emitCtx = context.WithoutCancel(ctx)
	delivered := make(chan struct{})
	go e.deliver(delivered)

	e.input = e.doc.Listen(func(in dom.Input) {
		e.post(func() { e.handleInput(in) })
	})

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			close(e.halt)
			<-delivered
			close(e.done)
			return nil
		case <-e.in.ready:
			for _, fn := range e.in.drain() {
				fn()
				e.flush()
			}
		}
	}
}

func (e *Engine) shutdown() {
	if e.input != nil {
		e.input.Cancel()
	}
	e.watcher.Detach()
	e.selection.Close()
	e.live = false
	e.logger.Debug("overlay: engine stopped", "hidden", e.ledger.Len())
}

// call runs fn on the loop and waits for its result.
func call[T any](ctx context.Context, e *Engine, fn func() T) (T, error) {
	var zero T
	select {
	case <-e.halt:
		return zero, ErrClosed
	default:
	}
	res := make(chan T, 1)
	e.post(func() { res <- fn() })
	select {
	case v := <-res:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.halt:
		return zero, ErrClosed
	}
}

// Flush waits until every notification queued before the call has been
// processed.
func (e *Engine) Flush(ctx context.Context) error {
	_, err := call(ctx, e, func() struct{} { return struct{}{} })
	return err
}

// Start fetches the settings and the whitelist verdict for the page
// hostname, then applies them on the loop. A response that arrives after
// another state change is dropped. Fetch errors leave the engine in its
// last-known state.
func (e *Engine) Start(ctx context.Context) error {
	gen, err := call(ctx, e, func() uint64 { return e.gen })
	if err != nil {
		return err
	}
	s, err := e.opts.Source.GetSettings(ctx)
	if err != nil {
		e.logger.Warn("overlay: settings fetch failed", "error", err)
		return fmt.Errorf("overlay: start: %w", err)
	}
	wl, err := e.opts.Source.IsWhitelisted(ctx, e.host)
	if err != nil {
		e.logger.Warn("overlay: whitelist check failed", "host", e.host, "error", err)
		return fmt.Errorf("overlay: start: %w", err)
	}
	_, err = call(ctx, e, func() struct{} {
		if e.gen != gen {
			e.logger.Debug("overlay: stale settings response dropped", "gen", gen, "current", e.gen)
			return struct{}{}
		}
		e.setSettings(s)
		e.loaded = true
		e.transition(s.Enabled, wl)
		return struct{}{}
	})
	return err
}

// Toggle flips the enabled flag and reports the new value.
func (e *Engine) Toggle(ctx context.Context) (bool, error) {
	return call(ctx, e, func() bool {
		e.loaded = true
		e.transition(!e.enabled, e.whitelisted)
		return e.enabled
	})
}

// SiteWhitelisted stops all automatic action on the page. A non-empty domain
// that is not the page hostname is ignored; the result reports whether the
// page was affected.
func (e *Engine) SiteWhitelisted(ctx context.Context, domain string) (bool, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	return call(ctx, e, func() bool {
		if domain != "" && domain != e.host {
			return false
		}
		e.transition(e.enabled, true)
		return true
	})
}

// ApplySettings installs a settings record pushed by the store. Thresholds
// and selectors are replaced; the enabled flag and whitelist membership are
// re-evaluated only when they differ from the previously applied record, so
// an unrelated edit does not undo a Toggle.
func (e *Engine) ApplySettings(ctx context.Context, s config.Settings) error {
	_, err := call(ctx, e, func() struct{} {
		prev, first := e.settings, !e.loaded
		rulesChanged := e.setSettings(s)

		enabled, wl := e.enabled, e.whitelisted
		if first || s.Enabled != prev.Enabled {
			enabled = s.Enabled
		}
		if now := s.Whitelisted(e.host); first || now != prev.Whitelisted(e.host) {
			wl = now
		}
		e.loaded = true
		wasLive := e.live
		e.transition(enabled, wl)
		if wasLive && e.live && rulesChanged {
			e.sweep()
		}
		e.updateRestoreButton()
		return struct{}{}
	})
	return err
}

// setSettings stores s and reports whether the classifier rules changed.
func (e *Engine) setSettings(s config.Settings) bool {
	prev := e.classifier.Config()
	next := s.Classifier()
	e.settings = s.Clone()
	e.classifier.SetConfig(next)
	e.gen++
	e.dirty = true
	return prev.MinZIndex != next.MinZIndex ||
		prev.CoverageThreshold != next.CoverageThreshold ||
		strings.Join(prev.CustomSelectors, "\x00") != strings.Join(next.CustomSelectors, "\x00")
}

// RemoveOverlayAtPoint hit-tests page coordinates. In selection mode the hit
// element is hidden unconditionally; otherwise it is hidden when it
// classifies as an overlay, else its nearest overlay ancestor below body.
func (e *Engine) RemoveOverlayAtPoint(ctx context.Context, x, y float64) (Removal, error) {
	return call(ctx, e, func() Removal {
		vp := e.doc.Viewport()
		el := e.doc.ElementFromPoint(x-vp.ScrollX, y-vp.ScrollY)
		if el == nil || dom.IsUI(el) {
			return Removal{}
		}
		if v := e.classifier.Classify(el, vp); v.Overlay {
			return e.hide(el, ledger.SourceCommand, v.Reason, true)
		}
		if e.selection.Active() {
			return e.hide(el, ledger.SourceCommand, "selection mode", false)
		}
		body, root := e.doc.Body(), e.doc.DocumentElement()
		for p := el.Parent(); p != nil && !dom.Same(p, body) && !dom.Same(p, root); p = p.Parent() {
			if v := e.classifier.Classify(p, vp); v.Overlay {
				return e.hide(p, ledger.SourceCommand, v.Reason, true)
			}
		}
		return Removal{}
	})
}

// RemoveElementByID hides the element with that id and its backdrops without
// classifying it. A missing id has no effect.
func (e *Engine) RemoveElementByID(ctx context.Context, id string) (Removal, error) {
	return call(ctx, e, func() Removal {
		el := e.doc.ElementByID(id)
		if el == nil || dom.IsUI(el) {
			return Removal{}
		}
		return e.hide(el, ledger.SourceCommand, "id "+id, true)
	})
}

// RestoreAll undoes every hide.
func (e *Engine) RestoreAll(ctx context.Context) (RestoreResult, error) {
	return call(ctx, e, e.restoreAll)
}

// ToggleSelection flips selection mode and reports whether it is active.
// Selection mode is only available while the engine is live.
func (e *Engine) ToggleSelection(ctx context.Context) (bool, error) {
	return call(ctx, e, func() bool {
		if !e.live {
			return false
		}
		e.selection.Toggle()
		e.dirty = true
		return e.selection.Active()
	})
}

// Stats returns the current counters.
func (e *Engine) Stats(ctx context.Context) (events.Stats, error) {
	return call(ctx, e, e.stats)
}

// Records returns the ledger in hide order.
func (e *Engine) Records(ctx context.Context) ([]ledger.Record, error) {
	return call(ctx, e, e.ledger.Records)
}

// transition applies the enabled/whitelisted pair and attaches or detaches
// accordingly.
func (e *Engine) transition(enabled, whitelisted bool) {
	if enabled != e.enabled || whitelisted != e.whitelisted {
		e.gen++
		e.dirty = true
	}
	e.enabled, e.whitelisted = enabled, whitelisted
	want := e.loaded && enabled && !whitelisted
	switch {
	case want && !e.live:
		e.goLive()
	case !want && e.live:
		e.goIdle()
	}
}

func (e *Engine) goLive() {
	e.live = true
	e.dirty = true
	clear(e.spared)
	e.watcher.Attach()
	e.ensureRestoreButton()
	e.sweep()
	e.updateRestoreButton()
	e.logger.Info("overlay: active", "host", e.host, "hidden", e.ledger.Len())
}

func (e *Engine) goIdle() {
	e.live = false
	e.dirty = true
	e.watcher.Detach()
	e.selection.Close()
	res := e.ledger.RestoreAll()
	e.updateRestoreButton()
	e.logger.Info("overlay: inactive", "host", e.host,
		"enabled", e.enabled, "whitelisted", e.whitelisted,
		"restored", res.Restored, "detached", res.Detached)
}

func (e *Engine) restoreAll() RestoreResult {
	recs := e.ledger.Records()
	res := e.ledger.RestoreAll()
	if e.live {
		for _, r := range recs {
			e.spared[r.Element.Key()] = true
		}
	}
	e.updateRestoreButton()
	if len(recs) > 0 {
		e.dirty = true
	}
	return RestoreResult{Restored: res.Restored, Detached: res.Detached}
}

// sweep evaluates every element under body.
func (e *Engine) sweep() {
	body := e.doc.Body()
	if body == nil {
		return
	}
	for _, el := range body.QueryAll("*") {
		e.evaluate(el)
	}
}

func (e *Engine) handleBatch(cands []dom.Element) {
	if !e.live {
		return
	}
	for _, el := range cands {
		e.evaluate(el)
	}
}

// unspare returns a restored element to the automatic path once the page
// rewrites its class or id. Style records are what the restore itself emits.
func (e *Engine) unspare(el dom.Element, attr string) {
	if attr != "class" && attr != "id" {
		return
	}
	if k := el.Key(); e.spared[k] {
		delete(e.spared, k)
		e.logger.Debug("overlay: restored element changed", "attr", attr, "tag", el.TagName())
	}
}

// evaluate is the automatic path: classify and hide with backdrops.
func (e *Engine) evaluate(el dom.Element) {
	if el == nil || e.spared[el.Key()] || dom.IsUI(el) || !el.IsConnected() || insideHidden(el) {
		return
	}
	if v := e.classifier.Classify(el, e.doc.Viewport()); v.Overlay {
		e.hide(el, ledger.SourceAuto, v.Reason, true)
	}
}

// insideHidden reports whether el or an ancestor is already in the ledger.
func insideHidden(el dom.Element) bool {
	for p := el; p != nil; p = p.Parent() {
		if ledger.IsMarked(p) {
			return true
		}
	}
	return false
}

// pick is the selection-mode removal. Overlays keep their backdrop sweep;
// anything else is hidden alone.
func (e *Engine) pick(el dom.Element) bool {
	if v := e.classifier.Classify(el, e.doc.Viewport()); v.Overlay {
		return e.hide(el, ledger.SourceManual, v.Reason, true).Removed
	}
	return e.hide(el, ledger.SourceManual, "selected", false).Removed
}

func (e *Engine) hide(el dom.Element, src ledger.Source, reason string, sweepBackdrops bool) Removal {
	if dom.Same(el, e.doc.Body()) || dom.Same(el, e.doc.DocumentElement()) {
		return Removal{}
	}
	rec, ok := e.ledger.Hide(el, src, reason)
	if !ok {
		return Removal{}
	}
	r := Removal{Removed: true, RecordID: rec.ID, Tag: el.TagName(), Source: string(src), Reason: reason}
	if sweepBackdrops {
		r.Backdrops = e.hideBackdrops(el, rec.ID)
	}
	e.dirty = true
	e.updateRestoreButton()
	e.logger.Debug("overlay: hidden", "tag", r.Tag, "source", src, "reason", reason, "backdrops", r.Backdrops)
	return r
}

// hideBackdrops hides the scrim siblings of a confirmed overlay.
func (e *Engine) hideBackdrops(el dom.Element, recID string) int {
	parent := el.Parent()
	if parent == nil {
		return 0
	}
	n := 0
	for _, sib := range parent.Children() {
		if dom.Same(sib, el) || dom.IsUI(sib) || ledger.IsMarked(sib) {
			continue
		}
		if classify.IsBackdrop(sib) {
			if _, ok := e.ledger.Hide(sib, ledger.SourceBackdrop, "backdrop of "+recID); ok {
				n++
			}
		}
	}
	return n
}

func (e *Engine) ensureRestoreButton() {
	if e.restoreBtn != nil && e.restoreBtn.IsConnected() {
		return
	}
	body := e.doc.Body()
	if body == nil {
		return
	}
	btn := e.doc.CreateElement("div")
	btn.SetAttr("id", RestoreButtonID)
	btn.SetAttr(dom.UIAttr, "restore")
	btn.SetAttr(dom.ActionAttr, "restore")
	btn.SetAttr("style", restoreButtonStyle)
	btn.SetTextContent("↻ Restore Overlays")
	body.AppendChild(btn)
	e.restoreBtn = btn
}

// updateRestoreButton shows the button while the page is live, the setting
// allows it and something is hidden.
func (e *Engine) updateRestoreButton() {
	if e.restoreBtn == nil {
		return
	}
	display := "none"
	if e.live && e.settings.ShowRestoreButton && e.ledger.Len() > 0 {
		display = "block"
	}
	e.restoreBtn.SetInlineStyle("display", display)
}

func (e *Engine) handleInput(in dom.Input) {
	switch in.Kind {
	case dom.Action:
		if in.Action == "restore" {
			e.restoreAll()
		}
	case dom.KeyDown, dom.Click:
		if !e.live {
			return
		}
		if e.selection.HandleInput(in) {
			e.dirty = true
		}
	}
}

func (e *Engine) stats() events.Stats {
	by := make(map[string]int)
	for _, r := range e.ledger.Records() {
		by[string(r.Source)]++
	}
	return events.Stats{
		PageID:      e.opts.PageID,
		PageURL:     e.doc.URL(),
		Enabled:     e.enabled,
		Whitelisted: e.whitelisted,
		Selecting:   e.selection.Active(),
		Hidden:      e.ledger.Len(),
		BySource:    by,
		Timestamp:   e.opts.Now().UnixMilli(),
	}
}

// flush emits pending events after each unit of loop work.
func (e *Engine) flush() {
	if !e.dirty {
		return
	}
	e.dirty = false
	if e.opts.Sink == nil {
		return
	}
	st := e.stats()
	e.seq++
	st.ID, st.Seq = e.opts.IDs(), e.seq
	e.out.push(func() {
		if err := e.opts.Sink.SendStats(e.emitCtx, st); err != nil {
			e.logger.Warn("overlay: emit stats failed", "error", err)
		}
	})

	if avail := st.Hidden > 0; avail != e.available {
		e.available = avail
		e.seq++
		ra := events.RestoreAvailable{
			ID:        e.opts.IDs(),
			PageID:    e.opts.PageID,
			PageURL:   st.PageURL,
			Seq:       e.seq,
			Available: avail,
			Count:     st.Hidden,
			Timestamp: st.Timestamp,
		}
		e.out.push(func() {
			if err := e.opts.Sink.SendRestoreAvailable(e.emitCtx, ra); err != nil {
				e.logger.Warn("overlay: emit restore_available failed", "error", err)
			}
		})
	}
}

// deliver sends queued events in order until the loop has stopped and the
// queue is empty.
func (e *Engine) deliver(delivered chan<- struct{}) {
	defer close(delivered)
	for {
		select {
		case <-e.out.ready:
			for _, send := range e.out.drain() {
				send()
			}
		case <-e.halt:
			for _, send := range e.out.drain() {
				send()
			}
			return
		}
	}
}
