package memdom

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/unveil/dom"
)

type styleRule struct {
	sel   cascadia.Sel
	spec  cascadia.Specificity
	order int
	decls []*css.Declaration
}

// reloadSheetLocked rebuilds the rule list from every <style> element in
// document order. Rules that fail to parse are skipped.
func (d *Document) reloadSheetLocked() {
	d.sheet = d.sheet[:0]
	order := 0
	walk(d.root, func(n *html.Node) bool {
		if n.DataAtom != atom.Style {
			return true
		}
		sheet, err := parser.Parse(text(n))
		if err != nil {
			return true
		}
		for _, r := range sheet.Rules {
			if r.Kind != css.QualifiedRule {
				continue
			}
			for _, s := range r.Selectors {
				sel, err := cascadia.Parse(s)
				if err != nil {
					continue
				}
				d.sheet = append(d.sheet, styleRule{sel: sel, spec: sel.Specificity(), order: order, decls: r.Declarations})
			}
			order++
		}
		return true
	})
}

func inlineDecls(n *html.Node) []*css.Declaration {
	v, ok := attr(n, "style")
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return nil
	}
	// douceur drops a final declaration that is not terminated.
	if !strings.HasSuffix(v, ";") {
		v += ";"
	}
	decls, err := parser.ParseDeclarations(v)
	if err != nil {
		return nil
	}
	return decls
}

// setInline returns the serialized style attribute after setting prop.
func setInline(decls []*css.Declaration, prop, value string) string {
	var out []string
	found := false
	for _, decl := range decls {
		if decl.Property == prop {
			found = true
			if value == "" {
				continue
			}
			decl = &css.Declaration{Property: prop, Value: value}
		}
		out = append(out, decl.String())
	}
	if !found && value != "" {
		out = append(out, (&css.Declaration{Property: prop, Value: value}).String())
	}
	return strings.Join(out, " ")
}

type candidate struct {
	value     string
	important bool
	inline    bool
	spec      cascadia.Specificity
	order     int
	ok        bool
}

func (c candidate) beats(o candidate) bool {
	switch {
	case !o.ok:
		return true
	case c.important != o.important:
		return c.important
	case c.inline != o.inline:
		return c.inline
	case c.spec != o.spec:
		return o.spec.Less(c.spec)
	}
	return c.order >= o.order
}

// cascadeLocked resolves the specified value of prop on n.
func (d *Document) cascadeLocked(n *html.Node, prop string) (string, bool) {
	var best candidate
	for _, r := range d.sheet {
		if !r.sel.Match(n) {
			continue
		}
		for _, decl := range r.decls {
			if v, ok := longhand(decl, prop); ok {
				c := candidate{value: v, important: decl.Important, spec: r.spec, order: r.order, ok: true}
				if c.beats(best) {
					best = c
				}
			}
		}
	}
	for _, decl := range inlineDecls(n) {
		if v, ok := longhand(decl, prop); ok {
			c := candidate{value: v, important: decl.Important, inline: true, ok: true}
			if c.beats(best) {
				best = c
			}
		}
	}
	return best.value, best.ok
}

// longhand extracts prop from decl, expanding the background and inset
// shorthands.
func longhand(decl *css.Declaration, prop string) (string, bool) {
	p := strings.ToLower(decl.Property)
	if p == prop {
		return strings.TrimSpace(decl.Value), true
	}
	v := strings.TrimSpace(decl.Value)
	switch p {
	case "background":
		switch prop {
		case "background-color":
			if c, ok := findColor(v); ok {
				return c, true
			}
			return "transparent", true
		case "background-image":
			if strings.Contains(v, "url(") || strings.Contains(v, "gradient(") {
				return v, true
			}
			return "none", true
		}
	case "inset":
		f := strings.Fields(v)
		var top, right, bottom, left string
		switch len(f) {
		case 1:
			top, right, bottom, left = f[0], f[0], f[0], f[0]
		case 2:
			top, right, bottom, left = f[0], f[1], f[0], f[1]
		case 3:
			top, right, bottom, left = f[0], f[1], f[2], f[1]
		case 4:
			top, right, bottom, left = f[0], f[1], f[2], f[3]
		default:
			return "", false
		}
		switch prop {
		case "top":
			return top, true
		case "right":
			return right, true
		case "bottom":
			return bottom, true
		case "left":
			return left, true
		}
	}
	return "", false
}

func findColor(v string) (string, bool) {
	lv := strings.ToLower(v)
	for _, fn := range []string{"rgb", "hsl", "hwb"} {
		i := strings.Index(lv, fn)
		if i < 0 {
			continue
		}
		if j := strings.IndexByte(lv[i:], ')'); j >= 0 {
			return lv[i : i+j+1], true
		}
	}
	for _, f := range strings.Fields(lv) {
		if _, ok := dom.ParseColor(f); ok {
			return f, true
		}
	}
	return "", false
}

var blockTags = map[atom.Atom]bool{
	atom.Html: true, atom.Body: true, atom.Div: true, atom.P: true, atom.Section: true,
	atom.Article: true, atom.Aside: true, atom.Header: true, atom.Footer: true,
	atom.Nav: true, atom.Main: true, atom.Form: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Dialog: true, atom.Figure: true, atom.Blockquote: true, atom.Pre: true,
}

var hiddenTags = map[atom.Atom]bool{
	atom.Head: true, atom.Script: true, atom.Style: true, atom.Template: true,
	atom.Meta: true, atom.Link: true, atom.Title: true, atom.Noscript: true,
}

// computedLocked resolves prop the way getComputedStyle reports it for the
// handful of properties the engine reads.
func (d *Document) computedLocked(n *html.Node, prop string) string {
	v, ok := d.cascadeLocked(n, prop)
	if ok && v != "initial" && v != "inherit" && v != "unset" {
		if strings.HasSuffix(prop, "color") {
			if c, ok := dom.ParseColor(v); ok {
				return c.String()
			}
		}
		return v
	}
	switch prop {
	case "display":
		switch {
		case hiddenTags[n.DataAtom]:
			return "none"
		case n.DataAtom == atom.Li:
			return "list-item"
		case blockTags[n.DataAtom]:
			return "block"
		}
		return "inline"
	case "position":
		return "static"
	case "z-index", "cursor", "pointer-events", "top", "left", "right", "bottom", "width", "height":
		return "auto"
	case "background-color":
		return "rgba(0, 0, 0, 0)"
	case "background-image":
		return "none"
	case "visibility", "overflow":
		if prop == "overflow" {
			return "visible"
		}
		return d.inheritedLocked(n, prop, "visible")
	case "opacity":
		return "1"
	}
	return ""
}

func (d *Document) inheritedLocked(n *html.Node, prop, initial string) string {
	for p := n.Parent; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if v, ok := d.cascadeLocked(p, prop); ok && v != "inherit" {
			return v
		}
	}
	return initial
}
