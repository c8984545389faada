package roddom

import (
	"github.com/hazyhaar/unveil/dom"
)

// Element is a dom.Element addressed by its bridge key.
type Element struct {
	d   *Document
	key string
	tag string
}

type optString struct {
	OK bool   `json:"ok"`
	V  string `json:"v"`
}

func (e *Element) Key() string     { return e.key }
func (e *Element) TagName() string { return e.tag }

func (e *Element) ClassName() (string, bool) {
	var r optString
	if !e.d.get(&r, "className", e.key) {
		return "", false
	}
	return r.V, r.OK
}

func (e *Element) ElementID() (string, bool) {
	var r optString
	if !e.d.get(&r, "id", e.key) {
		return "", false
	}
	return r.V, r.OK
}

func (e *Element) Attr(name string) (string, bool) {
	var r optString
	if !e.d.get(&r, "attr", e.key, name) {
		return "", false
	}
	return r.V, r.OK
}

func (e *Element) SetAttr(name, value string) { e.d.do("setAttr", e.key, name, value) }
func (e *Element) RemoveAttr(name string)     { e.d.do("removeAttr", e.key, name) }

func (e *Element) TextContent() string {
	var s string
	e.d.get(&s, "text", e.key)
	return s
}

func (e *Element) SetTextContent(text string) { e.d.do("setText", e.key, text) }

func (e *Element) ComputedStyle(prop string) string {
	var s string
	e.d.get(&s, "computed", e.key, prop)
	return s
}

func (e *Element) InlineStyle(prop string) string {
	var s string
	e.d.get(&s, "inline", e.key, prop)
	return s
}

func (e *Element) SetInlineStyle(prop, value string) { e.d.do("setInline", e.key, prop, value) }

func (e *Element) AddClass(names ...string) {
	if len(names) > 0 {
		e.d.do("addClass", e.key, names)
	}
}

func (e *Element) RemoveClass(names ...string) {
	if len(names) > 0 {
		e.d.do("removeClass", e.key, names)
	}
}

func (e *Element) BoundingRect() (dom.Rect, bool) {
	var r struct {
		dom.Rect
		OK bool `json:"ok"`
	}
	if !e.d.get(&r, "rect", e.key) || !r.OK {
		return dom.Rect{}, false
	}
	return r.Rect, true
}

func (e *Element) Parent() dom.Element      { return e.d.element("parent", e.key) }
func (e *Element) NextSibling() dom.Element { return e.d.element("next", e.key) }
func (e *Element) Children() []dom.Element  { return e.d.elements("children", e.key) }

func (e *Element) QueryAll(selector string) []dom.Element {
	return e.d.elements("queryAll", e.key, selector)
}

func (e *Element) AppendChild(child dom.Element) {
	if k, ok := e.d.key(child); ok {
		e.d.do("append", e.key, k)
	}
}

func (e *Element) Remove() { e.d.do("remove", e.key) }

func (e *Element) IsConnected() bool {
	var b bool
	e.d.get(&b, "connected", e.key)
	return b
}

func (e *Element) Contains(other dom.Element) bool {
	k, ok := e.d.key(other)
	if !ok {
		return false
	}
	var b bool
	e.d.get(&b, "contains", e.key, k)
	return b
}

func (e *Element) Matches(selector string) bool {
	var b bool
	e.d.get(&b, "matches", e.key, selector)
	return b
}
