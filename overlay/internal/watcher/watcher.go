// Package watcher turns document mutation batches into the ordered list of
// elements the engine must re-evaluate.
package watcher

import (
	"log/slog"

	"github.com/hazyhaar/unveil/dom"
	"github.com/hazyhaar/unveil/overlay/internal/ledger"
)

// Options is the subscription the watcher installs on the body.
var Options = dom.ObserveOptions{
	ChildList:       true,
	Subtree:         true,
	Attributes:      true,
	AttributeFilter: []string{"class", "id", "style"},
}

// Config configures a Watcher.
type Config struct {
	// Schedule moves a mutation batch onto the owner's goroutine. The
	// document may call back from any goroutine. Default: run inline.
	Schedule func(func())
	// Skip filters candidates in addition to already-marked elements.
	Skip func(dom.Element) bool
	// Changed sees every attribute record of a batch, marked and skipped
	// targets included, before the candidates are handled.
	Changed func(el dom.Element, attr string)
	Logger  *slog.Logger
}

func (c *Config) defaults() {
	if c.Schedule == nil {
		c.Schedule = func(fn func()) { fn() }
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Watcher owns at most one subscription. Attach and Detach run on the
// owner's goroutine.
type Watcher struct {
	doc    dom.Document
	cfg    Config
	handle func([]dom.Element)
	sub    dom.Subscription
	// gen identifies the current subscription; batches scheduled under an
	// older one are dropped.
	gen uint64
}

// New returns a detached watcher that calls handle with each batch's
// candidates.
func New(doc dom.Document, cfg Config, handle func([]dom.Element)) *Watcher {
	cfg.defaults()
	return &Watcher{doc: doc, cfg: cfg, handle: handle}
}

// Attach subscribes to the body subtree. Returns false when already
// attached or when the document has no body.
func (w *Watcher) Attach() bool {
	if w.sub != nil {
		return false
	}
	body := w.doc.Body()
	if body == nil {
		w.cfg.Logger.Warn("watcher: no body to observe", "url", w.doc.URL())
		return false
	}
	w.gen++
	gen := w.gen
	w.sub = w.doc.Observe(body, Options, func(recs []dom.Record) {
		w.cfg.Schedule(func() { w.process(gen, recs) })
	})
	w.cfg.Logger.Debug("watcher: attached", "url", w.doc.URL())
	return true
}

// Detach cancels the subscription. Returns false when not attached.
func (w *Watcher) Detach() bool {
	if w.sub == nil {
		return false
	}
	w.sub.Cancel()
	w.sub = nil
	w.gen++
	w.cfg.Logger.Debug("watcher: detached", "url", w.doc.URL())
	return true
}

func (w *Watcher) Attached() bool { return w.sub != nil }

func (w *Watcher) process(gen uint64, recs []dom.Record) {
	if w.sub == nil || gen != w.gen {
		return
	}
	if w.cfg.Changed != nil {
		for _, r := range recs {
			if r.Kind == dom.Attributes && r.Target != nil {
				w.cfg.Changed(r.Target, r.AttributeName)
			}
		}
	}
	if c := Candidates(recs, w.cfg.Skip); len(c) > 0 {
		w.handle(c)
	}
}

// Candidates collapses a batch: added elements with their element
// descendants and attribute targets, first occurrence wins, marked and
// skipped elements dropped.
func Candidates(recs []dom.Record, skip func(dom.Element) bool) []dom.Element {
	seen := make(map[string]bool)
	var out []dom.Element
	add := func(el dom.Element) {
		if el == nil || seen[el.Key()] {
			return
		}
		seen[el.Key()] = true
		if ledger.IsMarked(el) || (skip != nil && skip(el)) {
			return
		}
		out = append(out, el)
	}
	for _, r := range recs {
		switch r.Kind {
		case dom.ChildList:
			for _, el := range r.Added {
				add(el)
				for _, d := range el.QueryAll("*") {
					add(d)
				}
			}
		case dom.Attributes:
			add(r.Target)
		}
	}
	return out
}
