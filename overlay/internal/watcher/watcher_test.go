package watcher

import (
	"testing"

	"github.com/hazyhaar/unveil/dom"
	"github.com/hazyhaar/unveil/dom/memdom"
	"github.com/hazyhaar/unveil/overlay/internal/ledger"
)

func load(t *testing.T) *memdom.Document {
	t.Helper()
	d, err := memdom.ParseString(`<html><body><div id="a">a</div><div id="b">b</div></body></html>`, "https://example.com/")
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	return d
}

func ids(els []dom.Element) []string {
	var out []string
	for _, el := range els {
		id, _ := el.ElementID()
		out = append(out, id)
	}
	return out
}

func TestCandidates_OrderAndDedup(t *testing.T) {
	d := load(t)
	a, b := d.ElementByID("a"), d.ElementByID("b")
	recs := []dom.Record{
		{Kind: dom.Attributes, Target: b, AttributeName: "class"},
		{Kind: dom.Attributes, Target: a, AttributeName: "style"},
		{Kind: dom.Attributes, Target: b, AttributeName: "id"},
	}
	got := ids(Candidates(recs, nil))
	if len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Errorf("Candidates: got %v, want [b a]", got)
	}
}

func TestCandidates_AddedSubtree(t *testing.T) {
	d := load(t)
	added, err := d.InsertHTML(d.Body(), `<section id="s"><div id="inner"><span id="deep">x</span></div></section>`)
	if err != nil {
		t.Fatalf("InsertHTML: %v", err)
	}
	recs := []dom.Record{{Kind: dom.ChildList, Target: d.Body(), Added: added}}
	got := ids(Candidates(recs, nil))
	want := []string{"s", "inner", "deep"}
	if len(got) != len(want) {
		t.Fatalf("Candidates: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Candidates[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCandidates_SkipsMarked(t *testing.T) {
	d := load(t)
	a, b := d.ElementByID("a"), d.ElementByID("b")
	a.SetAttr(ledger.MarkerAttr, "auto")
	recs := []dom.Record{
		{Kind: dom.Attributes, Target: a},
		{Kind: dom.Attributes, Target: b},
	}
	got := ids(Candidates(recs, func(el dom.Element) bool { return false }))
	if len(got) != 1 || got[0] != "b" {
		t.Errorf("Candidates: got %v, want [b]", got)
	}
	got = ids(Candidates(recs, func(el dom.Element) bool { return dom.Same(el, b) }))
	if len(got) != 0 {
		t.Errorf("Candidates with skip: got %v, want none", got)
	}
}

func TestWatcher_AttachDetach(t *testing.T) {
	d := load(t)
	var batches [][]string
	w := New(d, Config{}, func(els []dom.Element) { batches = append(batches, ids(els)) })

	if !w.Attach() {
		t.Fatal("first Attach: want true")
	}
	if w.Attach() {
		t.Error("second Attach: want false")
	}
	if n := d.Observers(); n != 1 {
		t.Fatalf("Observers: got %d, want 1", n)
	}

	d.ElementByID("a").AddClass("modal")
	d.ElementByID("a").SetAttr("data-x", "1")
	if len(batches) != 1 || batches[0][0] != "a" {
		t.Fatalf("batches after class change: got %v", batches)
	}

	if !w.Detach() {
		t.Fatal("Detach: want true")
	}
	if w.Detach() {
		t.Error("second Detach: want false")
	}
	if n := d.Observers(); n != 0 {
		t.Errorf("Observers after Detach: got %d", n)
	}
	d.ElementByID("b").AddClass("popup")
	if len(batches) != 1 {
		t.Errorf("batch delivered after Detach: %v", batches)
	}

	w.Attach()
	d.ElementByID("b").AddClass("again")
	if len(batches) != 2 {
		t.Errorf("batches after re-attach: got %d, want 2", len(batches))
	}
}

func TestWatcher_DropsStaleScheduledBatches(t *testing.T) {
	d := load(t)
	var pending []func()
	calls := 0
	w := New(d, Config{Schedule: func(fn func()) { pending = append(pending, fn) }}, func([]dom.Element) { calls++ })

	w.Attach()
	d.ElementByID("a").AddClass("x")
	w.Detach()
	w.Attach()
	d.ElementByID("b").AddClass("y")

	for _, fn := range pending {
		fn()
	}
	if calls != 1 {
		t.Errorf("handled batches: got %d, want 1 (pre-detach batch dropped)", calls)
	}
}

func TestWatcher_ChangedSeesMarkedTargets(t *testing.T) {
	d := load(t)
	a := d.ElementByID("a")
	a.SetAttr(ledger.MarkerAttr, "auto")

	var changed []string
	var batches [][]string
	w := New(d, Config{
		Changed: func(el dom.Element, attr string) {
			id, _ := el.ElementID()
			changed = append(changed, id+":"+attr)
		},
	}, func(els []dom.Element) { batches = append(batches, ids(els)) })
	w.Attach()

	a.SetInlineStyle("color", "red")
	a.AddClass("paywall")
	if len(changed) != 2 || changed[0] != "a:style" || changed[1] != "a:class" {
		t.Errorf("Changed: got %v, want [a:style a:class]", changed)
	}
	if len(batches) != 0 {
		t.Errorf("marked element delivered as candidate: %v", batches)
	}
}
