// Package ledger hides elements reversibly. Every hide records the inline
// style it overwrites before touching the element, so RestoreAll can always
// undo it.
package ledger

import (
	"log/slog"
	"time"

	"github.com/hazyhaar/unveil/dom"
	"github.com/hazyhaar/unveil/idgen"
)

// MarkerAttr is set on every hidden element while its record exists.
const MarkerAttr = "data-unveil-removed"

// Source says why an element was hidden.
type Source string

const (
	SourceAuto     Source = "auto"
	SourceBackdrop Source = "backdrop"
	SourceManual   Source = "manual"
	SourceCommand  Source = "command"
)

// hiddenStyle is applied in order after the record is stored.
var hiddenStyle = [...][2]string{
	{"display", "none"},
	{"visibility", "hidden"},
	{"opacity", "0"},
	{"pointer-events", "none"},
}

// Record is the pre-hide snapshot of one element. Parent and NextSibling
// are kept for structural restore; restore currently only resets style.
type Record struct {
	ID                 string
	Element            dom.Element
	Parent             dom.Element
	NextSibling        dom.Element
	PriorDisplay       string
	PriorVisibility    string
	PriorOpacity       string
	PriorPointerEvents string
	Source             Source
	Reason             string
	Timestamp          time.Time
}

// Result summarises a RestoreAll.
type Result struct {
	Restored int
	// Detached records had their style reset but no visible effect.
	Detached int
}

// Config configures a Ledger.
type Config struct {
	// IDs generates record IDs. Default: idgen.New.
	IDs idgen.Generator
	// Now is the clock. Default: time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.IDs == nil {
		c.IDs = idgen.Default
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ledger is owned by one engine loop and is not safe for concurrent use.
type Ledger struct {
	doc     dom.Document
	cfg     Config
	records []Record
}

func New(doc dom.Document, cfg Config) *Ledger {
	cfg.defaults()
	return &Ledger{doc: doc, cfg: cfg}
}

// IsMarked reports whether el carries the removed marker.
func IsMarked(el dom.Element) bool {
	if el == nil {
		return false
	}
	_, ok := el.Attr(MarkerAttr)
	return ok
}

// Hide snapshots el, appends its record, marks it and applies the hidden
// style set, then clears page scroll locks. A marked element is left alone
// and Hide returns false.
func (l *Ledger) Hide(el dom.Element, src Source, reason string) (Record, bool) {
	if el == nil || IsMarked(el) {
		return Record{}, false
	}
	rec := Record{
		ID:                 l.cfg.IDs(),
		Element:            el,
		Parent:             el.Parent(),
		NextSibling:        el.NextSibling(),
		PriorDisplay:       el.InlineStyle("display"),
		PriorVisibility:    el.InlineStyle("visibility"),
		PriorOpacity:       el.InlineStyle("opacity"),
		PriorPointerEvents: el.InlineStyle("pointer-events"),
		Source:             src,
		Reason:             reason,
		Timestamp:          l.cfg.Now(),
	}
	l.records = append(l.records, rec)

	el.SetAttr(MarkerAttr, string(src))
	for _, kv := range hiddenStyle {
		el.SetInlineStyle(kv[0], kv[1])
	}
	ClearScrollLock(l.doc)

	l.cfg.Logger.Debug("ledger: hidden", "id", rec.ID, "tag", el.TagName(), "source", src, "reason", reason)
	return rec, true
}

// RestoreAll reapplies every captured style, clears markers and empties
// the ledger. Detached elements are reset too and counted separately.
func (l *Ledger) RestoreAll() Result {
	var res Result
	for _, rec := range l.records {
		el := rec.Element
		el.SetInlineStyle("display", rec.PriorDisplay)
		el.SetInlineStyle("visibility", rec.PriorVisibility)
		el.SetInlineStyle("opacity", rec.PriorOpacity)
		el.SetInlineStyle("pointer-events", rec.PriorPointerEvents)
		el.RemoveAttr(MarkerAttr)
		if el.IsConnected() {
			res.Restored++
		} else {
			res.Detached++
		}
	}
	l.records = nil
	if res.Restored+res.Detached > 0 {
		l.cfg.Logger.Debug("ledger: restored", "restored", res.Restored, "detached", res.Detached)
	}
	return res
}

func (l *Ledger) Len() int { return len(l.records) }

// Records returns a copy in hide order.
func (l *Ledger) Records() []Record {
	return append([]Record(nil), l.records...)
}

// ClearScrollLock removes the classes and inline overflow that pages use to
// freeze scrolling behind a modal.
func ClearScrollLock(doc dom.Document) {
	if doc == nil {
		return
	}
	if body := doc.Body(); body != nil {
		body.RemoveClass("no-scroll", "overflow-hidden", "modal-open")
		if body.InlineStyle("overflow") == "hidden" {
			body.SetInlineStyle("overflow", "")
		}
	}
	if root := doc.DocumentElement(); root != nil {
		root.RemoveClass("no-scroll", "overflow-hidden")
	}
}
