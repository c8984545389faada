package memdom

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/unveil/dom"
)

// Element is a handle on one node of a Document.
type Element struct {
	d   *Document
	n   *html.Node
	key string
}

var _ dom.Element = (*Element)(nil)

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.n }

func (e *Element) Key() string     { return e.key }
func (e *Element) TagName() string { return strings.ToLower(e.n.Data) }

// ClassName mirrors the DOM: SVG and MathML elements expose an animated
// object instead of a string.
func (e *Element) ClassName() (string, bool) {
	if e.n.Namespace != "" {
		return "", false
	}
	v, _ := e.Attr("class")
	return v, true
}

func (e *Element) ElementID() (string, bool) {
	v, _ := e.Attr("id")
	return v, true
}

func (e *Element) Attr(name string) (string, bool) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return attr(e.n, name)
}

func (e *Element) SetAttr(name, value string) {
	e.d.mutate(func() []rawRecord {
		if !setAttr(e.n, name, value) {
			return nil
		}
		return []rawRecord{{kind: dom.Attributes, target: e.n, attr: name}}
	})
}

func (e *Element) RemoveAttr(name string) {
	e.d.mutate(func() []rawRecord {
		if !removeAttr(e.n, name) {
			return nil
		}
		return []rawRecord{{kind: dom.Attributes, target: e.n, attr: name}}
	})
}

func (e *Element) TextContent() string {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return text(e.n)
}

func (e *Element) SetTextContent(t string) {
	e.d.mutate(func() []rawRecord {
		for c := e.n.FirstChild; c != nil; {
			next := c.NextSibling
			e.n.RemoveChild(c)
			c = next
		}
		if t != "" {
			e.n.AppendChild(&html.Node{Type: html.TextNode, Data: t})
		}
		if e.n.Data == "style" {
			e.d.reloadSheetLocked()
		}
		return []rawRecord{{kind: dom.ChildList, target: e.n}}
	})
}

func (e *Element) ComputedStyle(prop string) string {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return e.d.computedLocked(e.n, strings.ToLower(prop))
}

func (e *Element) InlineStyle(prop string) string {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	for _, decl := range inlineDecls(e.n) {
		if decl.Property == prop {
			return decl.Value
		}
	}
	return ""
}

func (e *Element) SetInlineStyle(prop, value string) {
	e.d.mutate(func() []rawRecord {
		old, _ := attr(e.n, "style")
		next := setInline(inlineDecls(e.n), prop, value)
		if next == old {
			return nil
		}
		if next == "" {
			removeAttr(e.n, "style")
		} else {
			setAttr(e.n, "style", next)
		}
		return []rawRecord{{kind: dom.Attributes, target: e.n, attr: "style"}}
	})
}

func (e *Element) AddClass(names ...string) {
	e.d.mutate(func() []rawRecord {
		cur, _ := attr(e.n, "class")
		tokens := strings.Fields(cur)
		changed := false
		for _, name := range names {
			if !contains(tokens, name) {
				tokens = append(tokens, name)
				changed = true
			}
		}
		if !changed {
			return nil
		}
		setAttr(e.n, "class", strings.Join(tokens, " "))
		return []rawRecord{{kind: dom.Attributes, target: e.n, attr: "class"}}
	})
}

func (e *Element) RemoveClass(names ...string) {
	e.d.mutate(func() []rawRecord {
		cur, ok := attr(e.n, "class")
		if !ok {
			return nil
		}
		var kept []string
		for _, tok := range strings.Fields(cur) {
			if !contains(names, tok) {
				kept = append(kept, tok)
			}
		}
		next := strings.Join(kept, " ")
		if next == cur {
			return nil
		}
		setAttr(e.n, "class", next)
		return []rawRecord{{kind: dom.Attributes, target: e.n, attr: "class"}}
	})
}

func (e *Element) BoundingRect() (dom.Rect, bool) {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return e.d.rectLocked(e.n)
}

func (e *Element) Parent() dom.Element {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return e.d.wrapLocked(e.n.Parent)
}

func (e *Element) NextSibling() dom.Element {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	for s := e.n.NextSibling; s != nil; s = s.NextSibling {
		if s.Type == html.ElementNode {
			return e.d.wrapLocked(s)
		}
	}
	return nil
}

func (e *Element) Children() []dom.Element {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	var out []dom.Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, e.d.wrapLocked(c))
		}
	}
	return out
}

func (e *Element) QueryAll(selector string) []dom.Element {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return e.d.queryLocked(e.n, selector)
}

func (e *Element) AppendChild(child dom.Element) {
	c := e.d.node(child)
	if c == nil || c == e.n || isAncestor(c, e.n) {
		return
	}
	e.d.mutate(func() []rawRecord {
		var recs []rawRecord
		if old := c.Parent; old != nil {
			old.RemoveChild(c)
			recs = append(recs, rawRecord{kind: dom.ChildList, target: old})
		}
		e.n.AppendChild(c)
		if hasStyleNode(c) {
			e.d.reloadSheetLocked()
		}
		return append(recs, rawRecord{kind: dom.ChildList, target: e.n, added: []*html.Node{c}})
	})
}

func (e *Element) Remove() {
	e.d.mutate(func() []rawRecord {
		p := e.n.Parent
		if p == nil {
			return nil
		}
		p.RemoveChild(e.n)
		if hasStyleNode(e.n) {
			e.d.reloadSheetLocked()
		}
		return []rawRecord{{kind: dom.ChildList, target: p}}
	})
}

func (e *Element) IsConnected() bool {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return e.n == e.d.root || isAncestor(e.d.root, e.n)
}

func (e *Element) Contains(other dom.Element) bool {
	o := e.d.node(other)
	if o == nil {
		return false
	}
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	return o == e.n || isAncestor(e.n, o)
}

func (e *Element) Matches(selector string) bool {
	e.d.mu.Lock()
	defer e.d.mu.Unlock()
	g := e.d.groupLocked(selector)
	return g != nil && g.Match(e.n)
}

func text(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return b.String()
}

// setAttr reports whether the value changed.
func setAttr(n *html.Node, name, value string) bool {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			if a.Val == value {
				return false
			}
			n.Attr[i].Val = value
			return true
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
	return true
}

func removeAttr(n *html.Node, name string) bool {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return true
		}
	}
	return false
}
