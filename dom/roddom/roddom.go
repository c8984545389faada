// Package roddom implements dom.Document over a live Chrome page.
//
// An embedded JS bridge hands out stable element keys, runs the
// MutationObserver and captures keyboard and click input. Reads and writes
// go through Runtime.evaluate; mutation batches and input come back through
// a Runtime.addBinding channel.
package roddom

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/unveil/dom"
)

//go:embed bridge.js
var bridgeJS string

const bindingName = "__unveil_binding"

const callJS = `(op, args) => window.__unveil ? window.__unveil.call(op, args) : ""`

var errNoBridge = errors.New("roddom: bridge not installed")

// Options configures Attach.
type Options struct {
	// Timeout bounds every bridge call. Default: 10s.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Document is a dom.Document backed by a rod page.
type Document struct {
	page   *rod.Page
	opts   Options
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	subs      map[int]*subscription
	listeners []*listener
	nextSub   int
}

type subscription struct {
	fn     func([]dom.Record)
	active atomic.Bool
}

type listener struct {
	fn     func(dom.Input)
	active atomic.Bool
}

// Attach installs the bridge into page and starts listening for binding
// calls. The bridge is re-installed on every new document, but mutation
// subscriptions do not survive a navigation.
func Attach(ctx context.Context, page *rod.Page, opts Options) (*Document, error) {
	opts.defaults()
	dctx, cancel := context.WithCancel(ctx)
	d := &Document{
		page:   page,
		opts:   opts,
		logger: opts.Logger,
		ctx:    dctx,
		cancel: cancel,
		subs:   make(map[int]*subscription),
	}

	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(page); err != nil {
		d.logger.Warn("roddom: addBinding failed (may already exist)", "error", err)
	}
	if _, err := page.EvalOnNewDocument(bridgeJS); err != nil {
		d.logger.Warn("roddom: register bridge for new documents", "error", err)
	}
	if err := d.install(); err != nil {
		cancel()
		return nil, err
	}

	go d.listenBinding()

	if _, err := d.call("listen"); err != nil {
		cancel()
		return nil, fmt.Errorf("roddom: listen: %w", err)
	}
	return d, nil
}

// Close stops event delivery. The page itself is left open.
func (d *Document) Close() {
	d.cancel()
}

func (d *Document) install() error {
	p := d.page.Context(d.ctx).Timeout(d.opts.Timeout)
	defer p.CancelTimeout()
	if _, err := p.Eval("() => {" + bridgeJS + "}"); err != nil {
		return fmt.Errorf("roddom: inject bridge: %w", err)
	}
	return nil
}

// call runs one bridge operation and returns its JSON result. A missing
// bridge (after a reload) is re-injected once.
func (d *Document) call(op string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := d.eval(op, args)
	if errors.Is(err, errNoBridge) {
		if err := d.install(); err != nil {
			return nil, err
		}
		raw, err = d.eval(op, args)
	}
	return raw, err
}

func (d *Document) eval(op string, args []any) (json.RawMessage, error) {
	p := d.page.Context(d.ctx).Timeout(d.opts.Timeout)
	defer p.CancelTimeout()

	res, err := p.Eval(callJS, op, args)
	if err != nil {
		return nil, fmt.Errorf("roddom: %s: %w", op, err)
	}
	s := res.Value.Str()
	if s == "" {
		return nil, errNoBridge
	}
	var out struct {
		V   json.RawMessage `json:"v"`
		Err string          `json:"err"`
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("roddom: %s: decode: %w", op, err)
	}
	if out.Err != "" {
		return nil, fmt.Errorf("roddom: %s: %s", op, out.Err)
	}
	return out.V, nil
}

// do runs op for its side effect. Failures are logged and dropped.
func (d *Document) do(op string, args ...any) {
	if _, err := d.call(op, args...); err != nil {
		d.logger.Debug("roddom: call failed", "op", op, "error", err)
	}
}

// get runs op and decodes its result into v. It reports false on any failure.
func (d *Document) get(v any, op string, args ...any) bool {
	raw, err := d.call(op, args...)
	if err != nil {
		d.logger.Debug("roddom: call failed", "op", op, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		d.logger.Debug("roddom: decode failed", "op", op, "error", err)
		return false
	}
	return true
}

type handle struct {
	K string `json:"k"`
	T string `json:"t"`
}

func (d *Document) wrap(h *handle) dom.Element {
	if h == nil || h.K == "" {
		return nil
	}
	return &Element{d: d, key: h.K, tag: h.T}
}

func (d *Document) wrapAll(hs []handle) []dom.Element {
	out := make([]dom.Element, 0, len(hs))
	for i := range hs {
		if el := d.wrap(&hs[i]); el != nil {
			out = append(out, el)
		}
	}
	return out
}

func (d *Document) element(op string, args ...any) dom.Element {
	var h *handle
	if !d.get(&h, op, args...) {
		return nil
	}
	return d.wrap(h)
}

func (d *Document) elements(op string, args ...any) []dom.Element {
	var hs []handle
	if !d.get(&hs, op, args...) {
		return nil
	}
	return d.wrapAll(hs)
}

// key returns the bridge key of el when it belongs to d.
func (d *Document) key(el dom.Element) (string, bool) {
	e, ok := el.(*Element)
	if !ok || e == nil || e.d != d {
		return "", false
	}
	return e.key, true
}

func (d *Document) URL() string {
	var s string
	d.get(&s, "url")
	return s
}

func (d *Document) Viewport() dom.Viewport {
	var vp dom.Viewport
	d.get(&vp, "viewport")
	return vp
}

func (d *Document) Body() dom.Element            { return d.element("body") }
func (d *Document) DocumentElement() dom.Element { return d.element("root") }

func (d *Document) ElementFromPoint(x, y float64) dom.Element {
	return d.element("fromPoint", x, y)
}

func (d *Document) ElementByID(id string) dom.Element { return d.element("byId", id) }

func (d *Document) QueryAll(selector string) []dom.Element {
	return d.elements("queryAll", nil, selector)
}

func (d *Document) CreateElement(tag string) dom.Element { return d.element("create", tag) }

func (d *Document) Observe(target dom.Element, opts dom.ObserveOptions, fn func([]dom.Record)) dom.Subscription {
	k, ok := d.key(target)
	if !ok {
		return dom.SubscriptionFunc(func() {})
	}
	s := &subscription{fn: fn}
	s.active.Store(true)

	d.mu.Lock()
	d.nextSub++
	id := d.nextSub
	d.subs[id] = s
	d.mu.Unlock()

	init := map[string]any{
		"childList":       opts.ChildList,
		"subtree":         opts.Subtree,
		"attributes":      opts.Attributes,
		"attributeFilter": opts.AttributeFilter,
	}
	var attached bool
	if !d.get(&attached, "observe", id, k, init) || !attached {
		d.logger.Warn("roddom: observe failed", "target", k)
	}

	var once sync.Once
	return dom.SubscriptionFunc(func() {
		once.Do(func() {
			s.active.Store(false)
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
			d.do("unobserve", id)
		})
	})
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

func (d *Document) CaptureClicks(on bool) { d.do("capture", on) }

// listenBinding receives bridge messages via Runtime.bindingCalled until
// the document is closed.
func (d *Document) listenBinding() {
	d.page.Context(d.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		d.dispatch([]byte(e.Payload))
	})()
}

type message struct {
	Type    string      `json:"type"`
	Sub     int         `json:"sub"`
	Records []rawRecord `json:"records"`
	Input   *rawInput   `json:"input"`
}

type rawRecord struct {
	Kind   string   `json:"kind"`
	Target *handle  `json:"target"`
	Added  []handle `json:"added"`
	Attr   string   `json:"attr"`
}

type rawInput struct {
	Kind   string  `json:"kind"`
	Key    string  `json:"key"`
	Alt    bool    `json:"alt"`
	Ctrl   bool    `json:"ctrl"`
	Shift  bool    `json:"shift"`
	Meta   bool    `json:"meta"`
	Button int     `json:"button"`
	Target *handle `json:"target"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Action string  `json:"action"`
}

func (d *Document) dispatch(payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		d.logger.Warn("roddom: parse binding payload", "error", err)
		return
	}

	switch msg.Type {
	case "mutations":
		d.mu.Lock()
		s := d.subs[msg.Sub]
		d.mu.Unlock()
		if s == nil || !s.active.Load() {
			return
		}
		recs := make([]dom.Record, 0, len(msg.Records))
		for _, r := range msg.Records {
			target := d.wrap(r.Target)
			if target == nil {
				continue
			}
			recs = append(recs, dom.Record{
				Kind:          dom.RecordKind(r.Kind),
				Target:        target,
				Added:         d.wrapAll(r.Added),
				AttributeName: r.Attr,
			})
		}
		if len(recs) > 0 {
			s.fn(recs)
		}

	case "input":
		if msg.Input == nil {
			return
		}
		in := dom.Input{
			Kind:   dom.InputKind(msg.Input.Kind),
			Key:    msg.Input.Key,
			Alt:    msg.Input.Alt,
			Ctrl:   msg.Input.Ctrl,
			Shift:  msg.Input.Shift,
			Meta:   msg.Input.Meta,
			Button: msg.Input.Button,
			Target: d.wrap(msg.Input.Target),
			X:      msg.Input.X,
			Y:      msg.Input.Y,
			Action: msg.Input.Action,
		}
		d.mu.Lock()
		ls := append([]*listener(nil), d.listeners...)
		d.mu.Unlock()
		for _, l := range ls {
			if l.active.Load() {
				l.fn(in)
			}
		}

	default:
		d.logger.Debug("roddom: unknown message", "type", msg.Type)
	}
}
