// Package memdom is an in-memory dom.Document backed by golang.org/x/net/html.
//
// Computed style is resolved from <style> sheets and inline style attributes
// (parsed with douceur, matched with cascadia). Geometry comes from SetRect or,
// for fixed and absolute elements, from their offsets and sizes against the
// viewport. Mutation records are delivered synchronously after each change,
// or once per Batch.
package memdom

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/unveil/dom"
)

// DefaultViewport is used when no WithViewport option is given.
var DefaultViewport = dom.Viewport{Width: 1280, Height: 800}

// Option configures a Document.
type Option func(*Document)

// WithViewport sets the initial viewport.
func WithViewport(vp dom.Viewport) Option {
	return func(d *Document) { d.vp = vp }
}

// Document is safe for concurrent use. Callbacks run on the goroutine that
// caused the mutation or input, after the document lock is released.
type Document struct {
	mu      sync.Mutex
	root    *html.Node
	url     string
	vp      dom.Viewport
	handles map[*html.Node]*Element
	seq     int
	sheet   []styleRule
	rects   map[*html.Node]dom.Rect
	groups  map[string]cascadia.SelectorGroup

	observers []*observer
	listeners []*listener
	capture   bool

	batching int
	queued   []delivery
}

type observer struct {
	target *html.Node
	opts   dom.ObserveOptions
	fn     func([]dom.Record)
	active atomic.Bool
}

type listener struct {
	fn     func(dom.Input)
	active atomic.Bool
}

type rawRecord struct {
	kind   dom.RecordKind
	target *html.Node
	added  []*html.Node
	attr   string
}

type delivery struct {
	obs  *observer
	recs []dom.Record
}

var _ dom.Document = (*Document)(nil)

// Parse reads an HTML document. pageURL is reported by URL().
func Parse(r io.Reader, pageURL string, opts ...Option) (*Document, error) {
	gq, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("memdom: parse: %w", err)
	}
	d := &Document{
		root:    gq.Nodes[0],
		url:     pageURL,
		vp:      DefaultViewport,
		handles: make(map[*html.Node]*Element),
		rects:   make(map[*html.Node]dom.Rect),
		groups:  make(map[string]cascadia.SelectorGroup),
	}
	for _, o := range opts {
		o(d)
	}
	d.reloadSheetLocked()
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(src, pageURL string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(src), pageURL, opts...)
}

// Root returns the underlying document node. Callers must not mutate it
// while other goroutines use the Document.
func (d *Document) Root() *html.Node { return d.root }

// HTML renders the current tree.
func (d *Document) HTML() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	if err := html.Render(&b, d.root); err != nil {
		return "", fmt.Errorf("memdom: render: %w", err)
	}
	return b.String(), nil
}

func (d *Document) URL() string { return d.url }

func (d *Document) Viewport() dom.Viewport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.vp
}

// SetViewport changes the viewport size and scroll offsets.
func (d *Document) SetViewport(vp dom.Viewport) {
	d.mu.Lock()
	d.vp = vp
	d.mu.Unlock()
}

// SetRect pins the bounding rect of el, overriding layout estimation.
func (d *Document) SetRect(el dom.Element, r dom.Rect) {
	n := d.node(el)
	if n == nil {
		return
	}
	d.mu.Lock()
	d.rects[n] = r
	d.mu.Unlock()
}

func (d *Document) DocumentElement() dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wrapLocked(d.htmlNode())
}

func (d *Document) Body() dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wrapLocked(d.bodyNode())
}

func (d *Document) htmlNode() *html.Node {
	for c := d.root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func (d *Document) bodyNode() *html.Node {
	h := d.htmlNode()
	if h == nil {
		return nil
	}
	for c := h.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Body {
			return c
		}
	}
	return nil
}

func (d *Document) ElementByID(id string) dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	var found *html.Node
	walk(d.root, func(n *html.Node) bool {
		if v, ok := attr(n, "id"); ok && v == id {
			found = n
			return false
		}
		return true
	})
	return d.wrapLocked(found)
}

func (d *Document) QueryAll(selector string) []dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queryLocked(d.root, selector)
}

func (d *Document) queryLocked(under *html.Node, selector string) []dom.Element {
	g := d.groupLocked(selector)
	if g == nil {
		return nil
	}
	var out []dom.Element
	for c := under.FirstChild; c != nil; c = c.NextSibling {
		walk(c, func(n *html.Node) bool {
			if g.Match(n) {
				out = append(out, d.wrapLocked(n))
			}
			return true
		})
	}
	return out
}

// groupLocked compiles and caches selector; nil when it does not parse.
func (d *Document) groupLocked(selector string) cascadia.SelectorGroup {
	if g, ok := d.groups[selector]; ok {
		return g
	}
	g, err := cascadia.ParseGroup(selector)
	if err != nil {
		g = nil
	}
	d.groups[selector] = g
	return g
}

func (d *Document) CreateElement(tag string) dom.Element {
	tag = strings.ToLower(tag)
	n := &html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wrapLocked(n)
}

// InsertHTML parses fragment in the context of parent and appends the
// resulting nodes to it, as a single mutation batch.
func (d *Document) InsertHTML(parent dom.Element, fragment string) ([]dom.Element, error) {
	p := d.node(parent)
	if p == nil {
		return nil, fmt.Errorf("memdom: insert: parent is not a memdom element")
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), p)
	if err != nil {
		return nil, fmt.Errorf("memdom: insert: %w", err)
	}
	var added []dom.Element
	d.mutate(func() []rawRecord {
		rec := rawRecord{kind: dom.ChildList, target: p}
		style := false
		for _, n := range nodes {
			p.AppendChild(n)
			if n.Type == html.ElementNode {
				rec.added = append(rec.added, n)
				added = append(added, d.wrapLocked(n))
				style = style || hasStyleNode(n)
			}
		}
		if style {
			d.reloadSheetLocked()
		}
		return []rawRecord{rec}
	})
	return added, nil
}

// Batch runs fn and delivers every mutation record it caused as one batch
// per observer, the way a MutationObserver coalesces a task's mutations.
func (d *Document) Batch(fn func()) {
	d.mu.Lock()
	d.batching++
	d.mu.Unlock()

	fn()

	d.mu.Lock()
	d.batching--
	var out []delivery
	if d.batching == 0 {
		out = merge(d.queued)
		d.queued = nil
	}
	d.mu.Unlock()
	deliver(out)
}

func (d *Document) Observe(target dom.Element, opts dom.ObserveOptions, fn func([]dom.Record)) dom.Subscription {
	n := d.node(target)
	if n == nil || fn == nil {
		return dom.SubscriptionFunc(func() {})
	}
	o := &observer{target: n, opts: opts, fn: fn}
	o.active.Store(true)
	d.mu.Lock()
	d.observers = append(d.observers, o)
	d.mu.Unlock()
	return dom.SubscriptionFunc(func() {
		o.active.Store(false)
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, x := range d.observers {
			if x == o {
				d.observers = append(d.observers[:i], d.observers[i+1:]...)
				break
			}
		}
	})
}

// Observers returns the number of live mutation subscriptions.
func (d *Document) Observers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.observers)
}

func (d *Document) Listen(fn func(dom.Input)) dom.Subscription {
	l := &listener{fn: fn}
	l.active.Store(true)
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
	return dom.SubscriptionFunc(func() {
		l.active.Store(false)
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, x := range d.listeners {
			if x == l {
				d.listeners = append(d.listeners[:i], d.listeners[i+1:]...)
				break
			}
		}
	})
}

func (d *Document) CaptureClicks(on bool) {
	d.mu.Lock()
	d.capture = on
	d.mu.Unlock()
}

// Capturing reports whether click capture is on.
func (d *Document) Capturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capture
}

// PressKey dispatches a keydown to listeners.
func (d *Document) PressKey(key string, alt bool) {
	d.emit(dom.Input{Kind: dom.KeyDown, Key: key, Alt: alt})
}

// Click dispatches a click on target. While capture is on a primary click is
// delivered to listeners and reported as prevented. Otherwise a click on or
// inside an element carrying dom.ActionAttr is delivered as an Action.
func (d *Document) Click(target dom.Element, button int) (prevented bool) {
	n := d.node(target)
	if n == nil {
		return false
	}
	d.mu.Lock()
	capture := d.capture
	var in dom.Input
	switch {
	case capture && button == 0:
		in = dom.Input{Kind: dom.Click, Button: button, Target: d.wrapLocked(n)}
		if r, ok := d.rectLocked(n); ok {
			in.X, in.Y = r.Left+r.Width/2, r.Top+r.Height/2
		}
	default:
		for p := n; p != nil; p = p.Parent {
			if v, ok := attr(p, dom.ActionAttr); ok {
				in = dom.Input{Kind: dom.Action, Action: v, Button: button, Target: d.wrapLocked(p)}
				break
			}
		}
	}
	d.mu.Unlock()
	if in.Kind == "" {
		return false
	}
	d.emit(in)
	return in.Kind == dom.Click
}

func (d *Document) emit(in dom.Input) {
	d.mu.Lock()
	ls := append([]*listener(nil), d.listeners...)
	d.mu.Unlock()
	for _, l := range ls {
		if l.active.Load() {
			l.fn(in)
		}
	}
}

// mutate applies fn under the lock and delivers the records it returns once
// the lock is released.
func (d *Document) mutate(fn func() []rawRecord) {
	d.mu.Lock()
	recs := fn()
	out := d.routeLocked(recs)
	if d.batching > 0 {
		d.queued = append(d.queued, out...)
		out = nil
	}
	d.mu.Unlock()
	deliver(out)
}

func (d *Document) routeLocked(recs []rawRecord) []delivery {
	var out []delivery
	for _, o := range d.observers {
		var matched []dom.Record
		for _, r := range recs {
			if !wants(o, r) {
				continue
			}
			rec := dom.Record{Kind: r.kind, Target: d.wrapLocked(r.target), AttributeName: r.attr}
			for _, a := range r.added {
				rec.Added = append(rec.Added, d.wrapLocked(a))
			}
			matched = append(matched, rec)
		}
		if len(matched) > 0 {
			out = append(out, delivery{obs: o, recs: matched})
		}
	}
	return out
}

func wants(o *observer, r rawRecord) bool {
	switch r.kind {
	case dom.ChildList:
		if !o.opts.ChildList {
			return false
		}
	case dom.Attributes:
		if !o.opts.Attributes {
			return false
		}
		if len(o.opts.AttributeFilter) > 0 && !contains(o.opts.AttributeFilter, r.attr) {
			return false
		}
	}
	if r.target == o.target {
		return true
	}
	return o.opts.Subtree && isAncestor(o.target, r.target)
}

func merge(ds []delivery) []delivery {
	var out []delivery
	idx := make(map[*observer]int)
	for _, d := range ds {
		if i, ok := idx[d.obs]; ok {
			out[i].recs = append(out[i].recs, d.recs...)
			continue
		}
		idx[d.obs] = len(out)
		out = append(out, d)
	}
	return out
}

func deliver(ds []delivery) {
	for _, d := range ds {
		if d.obs.active.Load() {
			d.obs.fn(d.recs)
		}
	}
}

// wrapLocked returns the stable handle for n, or a nil interface.
func (d *Document) wrapLocked(n *html.Node) dom.Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	if e, ok := d.handles[n]; ok {
		return e
	}
	d.seq++
	e := &Element{d: d, n: n, key: fmt.Sprintf("m%d", d.seq)}
	d.handles[n] = e
	return e
}

// node unwraps a handle belonging to this document.
func (d *Document) node(el dom.Element) *html.Node {
	e, ok := el.(*Element)
	if !ok || e == nil || e.d != d {
		return nil
	}
	return e.n
}

func walk(n *html.Node, fn func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && !fn(n) {
		return false
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, fn) {
			return false
		}
	}
	return true
}

func isAncestor(a, n *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == a {
			return true
		}
	}
	return false
}

func hasStyleNode(n *html.Node) bool {
	found := false
	walk(n, func(c *html.Node) bool {
		if c.DataAtom == atom.Style {
			found = true
		}
		return !found
	})
	return found
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
