package memdom

import (
	"strings"
	"testing"

	"github.com/hazyhaar/unveil/dom"
)

const page = `<!doctype html>
<html><head><style>
.modal { position: fixed; z-index: 1000; top: 0; left: 0; width: 100%; height: 100vh; background: rgba(0,0,0,.5); }
#banner { position: absolute; z-index: 5; }
.modal.soft { z-index: 10 !important; }
</style></head>
<body>
<div id="main"><p id="para">Hello <b>world</b></p></div>
<div id="popup" class="modal" style="z-index: 2000">Subscribe now</div>
<svg id="icon" class="glyph"><circle r="4"></circle></svg>
</body></html>`

func mustParse(t *testing.T) *Document {
	t.Helper()
	d, err := ParseString(page, "https://news.example.com/a")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return d
}

func TestComputedStyle_Cascade(t *testing.T) {
	d := mustParse(t)
	el := d.ElementByID("popup")
	if el == nil {
		t.Fatal("ElementByID(popup): nil")
	}

	if got := el.ComputedStyle("position"); got != "fixed" {
		t.Errorf("position: got %q, want %q", got, "fixed")
	}
	if got := el.ComputedStyle("z-index"); got != "2000" {
		t.Errorf("z-index: got %q, want %q (inline beats sheet)", got, "2000")
	}
	if got := el.ComputedStyle("background-color"); got != "rgba(0, 0, 0, 0.5)" {
		t.Errorf("background-color: got %q", got)
	}
	if got := el.ComputedStyle("background-image"); got != "none" {
		t.Errorf("background-image: got %q", got)
	}

	el.AddClass("soft")
	if got := el.ComputedStyle("z-index"); got != "10" {
		t.Errorf("z-index with !important rule: got %q, want %q", got, "10")
	}
}

func TestComputedStyle_Colours(t *testing.T) {
	d, err := ParseString(`<html><body>
		<div id="hsl" style="background-color: hsl(0, 0%, 0%)"></div>
		<div id="named" style="background: darkslategray fixed"></div>
		<div id="hex" style="background-color: #00000080"></div>
		<div id="word" style="background: fade"></div>
	</body></html>`, "https://example.com/")
	if err != nil {
		t.Fatal(err)
	}
	cases := map[string]string{
		"hsl":   "rgb(0, 0, 0)",
		"named": "rgb(47, 79, 79)",
		"hex":   "rgba(0, 0, 0, 0.5)",
		"word":  "rgba(0, 0, 0, 0)",
	}
	for id, want := range cases {
		if got := d.ElementByID(id).ComputedStyle("background-color"); got != want {
			t.Errorf("%s background-color: got %q, want %q", id, got, want)
		}
	}
}

func TestComputedStyle_Defaults(t *testing.T) {
	d := mustParse(t)
	p := d.ElementByID("para")
	if got := p.ComputedStyle("position"); got != "static" {
		t.Errorf("position: got %q, want static", got)
	}
	if got := p.ComputedStyle("z-index"); got != "auto" {
		t.Errorf("z-index: got %q, want auto", got)
	}
	if got := p.ComputedStyle("display"); got != "block" {
		t.Errorf("display: got %q, want block", got)
	}
	if got := p.ComputedStyle("background-color"); got != "rgba(0, 0, 0, 0)" {
		t.Errorf("background-color: got %q", got)
	}
}

func TestSetInlineStyle(t *testing.T) {
	d := mustParse(t)
	p := d.ElementByID("para")

	p.SetInlineStyle("display", "none")
	p.SetInlineStyle("opacity", "0")
	if got := p.InlineStyle("display"); got != "none" {
		t.Errorf("InlineStyle(display): got %q", got)
	}
	if got := p.ComputedStyle("display"); got != "none" {
		t.Errorf("ComputedStyle(display): got %q", got)
	}

	p.SetInlineStyle("display", "")
	p.SetInlineStyle("opacity", "")
	if v, ok := p.Attr("style"); ok {
		t.Errorf("style attribute: got %q, want removed", v)
	}
}

func TestBoundingRect(t *testing.T) {
	d := mustParse(t)
	d.SetViewport(dom.Viewport{Width: 1000, Height: 600})

	r, ok := d.ElementByID("popup").BoundingRect()
	if !ok {
		t.Fatal("popup rect unavailable")
	}
	want := dom.Rect{Left: 0, Top: 0, Width: 1000, Height: 600}
	if r != want {
		t.Errorf("popup rect: got %+v, want %+v", r, want)
	}

	if _, ok := d.ElementByID("main").BoundingRect(); ok {
		t.Error("static element without pinned rect: want ok=false")
	}

	p := d.ElementByID("para")
	d.SetRect(p, dom.Rect{Left: 10, Top: 20, Width: 300, Height: 40})
	if r, _ := p.BoundingRect(); r.Width != 300 {
		t.Errorf("pinned rect: got %+v", r)
	}
	p.SetInlineStyle("display", "none")
	if r, ok := p.BoundingRect(); !ok || r != (dom.Rect{}) {
		t.Errorf("hidden rect: got %+v ok=%v, want zero", r, ok)
	}
}

func TestClassName_SVG(t *testing.T) {
	d := mustParse(t)
	icon := d.ElementByID("icon")
	if _, ok := icon.ClassName(); ok {
		t.Error("svg ClassName: want ok=false")
	}
	if v, _ := icon.Attr("class"); v != "glyph" {
		t.Errorf("svg class attr: got %q", v)
	}
}

func TestObserve_FilterAndSubtree(t *testing.T) {
	d := mustParse(t)
	var got []dom.Record
	sub := d.Observe(d.Body(), dom.ObserveOptions{
		ChildList: true, Subtree: true, Attributes: true,
		AttributeFilter: []string{"class", "id", "style"},
	}, func(recs []dom.Record) { got = append(got, recs...) })

	p := d.ElementByID("para")
	p.SetAttr("data-x", "1")
	if len(got) != 0 {
		t.Fatalf("filtered attribute delivered: %+v", got)
	}
	p.AddClass("lead")
	if len(got) != 1 || got[0].Kind != dom.Attributes || got[0].AttributeName != "class" {
		t.Fatalf("class change: got %+v", got)
	}

	got = nil
	added, err := d.InsertHTML(d.Body(), `<div id="late" class="overlay"><span>x</span></div>`)
	if err != nil {
		t.Fatalf("InsertHTML: %v", err)
	}
	if len(added) != 1 {
		t.Fatalf("InsertHTML added: got %d, want 1", len(added))
	}
	if len(got) != 1 || got[0].Kind != dom.ChildList || len(got[0].Added) != 1 {
		t.Fatalf("childList: got %+v", got)
	}
	if !dom.Same(got[0].Added[0], d.ElementByID("late")) {
		t.Error("added element identity mismatch")
	}

	sub.Cancel()
	got = nil
	p.AddClass("after")
	if len(got) != 0 {
		t.Errorf("after Cancel: got %d records", len(got))
	}
	if n := d.Observers(); n != 0 {
		t.Errorf("Observers after Cancel: got %d", n)
	}
}

func TestBatch_Coalesces(t *testing.T) {
	d := mustParse(t)
	calls := 0
	var recs []dom.Record
	d.Observe(d.Body(), dom.ObserveOptions{Subtree: true, Attributes: true}, func(r []dom.Record) {
		calls++
		recs = append(recs, r...)
	})

	d.Batch(func() {
		d.ElementByID("para").AddClass("a")
		d.ElementByID("main").AddClass("b")
	})
	if calls != 1 {
		t.Errorf("callbacks: got %d, want 1", calls)
	}
	if len(recs) != 2 {
		t.Errorf("records: got %d, want 2", len(recs))
	}
	if v, _ := recs[0].Target.ElementID(); v != "para" {
		t.Errorf("order: first target %q, want para", v)
	}
}

func TestClick_CaptureAndAction(t *testing.T) {
	d := mustParse(t)
	var inputs []dom.Input
	d.Listen(func(in dom.Input) { inputs = append(inputs, in) })

	p := d.ElementByID("para")
	if d.Click(p, 0) {
		t.Error("click without capture: want not prevented")
	}
	if len(inputs) != 0 {
		t.Fatalf("plain click delivered: %+v", inputs)
	}

	d.CaptureClicks(true)
	if !d.Click(p, 0) {
		t.Error("captured click: want prevented")
	}
	if d.Click(p, 2) {
		t.Error("secondary click: want not prevented")
	}
	if len(inputs) != 1 || inputs[0].Kind != dom.Click || !dom.Same(inputs[0].Target, p) {
		t.Fatalf("captured click: got %+v", inputs)
	}

	d.CaptureClicks(false)
	btn := d.CreateElement("div")
	btn.SetAttr(dom.ActionAttr, "restore")
	btn.SetTextContent("Restore")
	d.Body().AppendChild(btn)
	inputs = nil
	d.Click(btn, 0)
	if len(inputs) != 1 || inputs[0].Kind != dom.Action || inputs[0].Action != "restore" {
		t.Errorf("action click: got %+v", inputs)
	}
}

func TestElementFromPoint(t *testing.T) {
	d := mustParse(t)
	p := d.ElementByID("para")
	d.SetRect(p, dom.Rect{Left: 0, Top: 0, Width: 200, Height: 20})

	if got := d.ElementFromPoint(10, 10); !dom.Same(got, d.ElementByID("popup")) {
		t.Errorf("topmost: got %v, want popup", got)
	}

	d.ElementByID("popup").SetInlineStyle("display", "none")
	if got := d.ElementFromPoint(10, 10); !dom.Same(got, p) {
		t.Errorf("after hiding popup: got %v, want para", got)
	}
	if got := d.ElementFromPoint(900, 700); !dom.Same(got, d.Body()) {
		t.Errorf("empty area: got %v, want body", got)
	}
	if got := d.ElementFromPoint(-1, 10); got != nil {
		t.Errorf("outside viewport: got %v, want nil", got)
	}
}

func TestTreeOps(t *testing.T) {
	d := mustParse(t)
	main := d.ElementByID("main")
	p := d.ElementByID("para")

	if !dom.Same(p.Parent(), main) {
		t.Error("Parent: want main")
	}
	if !main.Contains(p) || p.Contains(main) {
		t.Error("Contains: wrong direction")
	}
	if got := strings.TrimSpace(p.TextContent()); got != "Hello world" {
		t.Errorf("TextContent: got %q", got)
	}
	if got := main.QueryAll("b"); len(got) != 1 {
		t.Errorf("QueryAll(b): got %d", len(got))
	}
	if got := d.QueryAll("[[bad"); got != nil {
		t.Errorf("invalid selector: got %v", got)
	}
	if !p.Matches("#main > p") {
		t.Error("Matches(#main > p): want true")
	}

	p.Remove()
	if p.IsConnected() {
		t.Error("IsConnected after Remove: want false")
	}
	if d.ElementByID("para") != nil {
		t.Error("ElementByID after Remove: want nil")
	}
}
