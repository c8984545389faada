package overlay

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/unveil/dbopen"
	"github.com/hazyhaar/unveil/dom"
	"github.com/hazyhaar/unveil/dom/memdom"
	"github.com/hazyhaar/unveil/overlay/internal/config"
)

// memOpener serves paywallPage for every URL.
type memOpener struct {
	mu     sync.Mutex
	opens  int
	closes int
	fail   error
	docs   map[string]*memdom.Document
}

type memPage struct {
	o   *memOpener
	doc *memdom.Document
}

func (p *memPage) Document() dom.Document { return p.doc }

func (p *memPage) Close() error {
	p.o.mu.Lock()
	p.o.closes++
	p.o.mu.Unlock()
	return nil
}

func (o *memOpener) Open(_ context.Context, p Page) (PageHandle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return nil, o.fail
	}
	doc, err := memdom.ParseString(paywallPage, p.URL,
		memdom.WithViewport(dom.Viewport{Width: 1000, Height: 800}))
	if err != nil {
		return nil, err
	}
	o.opens++
	if o.docs == nil {
		o.docs = make(map[string]*memdom.Document)
	}
	o.docs[p.ID] = doc
	return &memPage{o: o, doc: doc}, nil
}

func (o *memOpener) counts() (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens, o.closes
}

func newTestSupervisor(t *testing.T, op Opener, s config.Settings) *Supervisor {
	t.Helper()
	sup, err := NewSupervisor(SupervisorOptions{Opener: op, Source: config.NewStatic(s)})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	t.Cleanup(sup.Stop)
	return sup
}

func recordCount(t *testing.T, sup *Supervisor, id string) int {
	t.Helper()
	eng, err := sup.Engine(id)
	if err != nil {
		t.Fatalf("Engine(%s): %v", id, err)
	}
	if err := eng.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	recs, err := eng.Records(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return len(recs)
}

func TestSupervisorOpensAndCleansPages(t *testing.T) {
	ctx := context.Background()
	op := &memOpener{}
	sup := newTestSupervisor(t, op, config.Defaults())

	if err := sup.Open(ctx, Page{ID: "p1", URL: "https://a.example.com/x"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := recordCount(t, sup, "p1"); got != 2 {
		t.Errorf("records: got %d, want 2", got)
	}

	pages := sup.Pages()
	if len(pages) != 1 || !pages[0].Running || pages[0].Host != "a.example.com" {
		t.Errorf("Pages: got %+v", pages)
	}

	if err := sup.Open(ctx, Page{ID: "p1", URL: "https://a.example.com/x"}); err != nil {
		t.Fatal(err)
	}
	if opens, _ := op.counts(); opens != 1 {
		t.Errorf("reopen same url: opens got %d, want 1", opens)
	}

	if err := sup.Open(ctx, Page{ID: "p1", URL: "https://b.example.com/"}); err != nil {
		t.Fatal(err)
	}
	if opens, closes := op.counts(); opens != 2 || closes != 1 {
		t.Errorf("replace: got opens=%d closes=%d, want 2/1", opens, closes)
	}
	eng, _ := sup.Engine("p1")
	if eng.Host() != "b.example.com" {
		t.Errorf("host after replace: got %q", eng.Host())
	}
}

func TestSupervisorReconcile(t *testing.T) {
	ctx := context.Background()
	op := &memOpener{}
	sup := newTestSupervisor(t, op, config.Defaults())

	err := sup.Reconcile(ctx, []Page{
		{ID: "p1", URL: "https://a.com/"},
		{ID: "p2", URL: "https://b.com/"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(sup.Pages()) != 2 {
		t.Fatalf("Pages: got %+v", sup.Pages())
	}

	if err := sup.Reconcile(ctx, []Page{{ID: "p2", URL: "https://b.com/"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := sup.Engine("p1"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("Engine(p1) after reconcile: got %v, want ErrUnknownPage", err)
	}
	if opens, closes := op.counts(); opens != 2 || closes != 1 {
		t.Errorf("counts: got opens=%d closes=%d", opens, closes)
	}

	if err := sup.Close("p1"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("Close unknown: got %v", err)
	}
}

func TestSupervisorBroadcast(t *testing.T) {
	ctx := context.Background()
	sup := newTestSupervisor(t, &memOpener{}, config.Defaults())
	if err := sup.Open(ctx, Page{ID: "p1", URL: "https://a.com/"}); err != nil {
		t.Fatal(err)
	}

	off := config.Defaults()
	off.Enabled = false
	sup.Broadcast(ctx, off)
	if got := recordCount(t, sup, "p1"); got != 0 {
		t.Errorf("records after disable: got %d, want 0", got)
	}

	sup.Broadcast(ctx, config.Defaults())
	if got := recordCount(t, sup, "p1"); got != 2 {
		t.Errorf("records after enable: got %d, want 2", got)
	}
}

func TestSupervisorSuspendResume(t *testing.T) {
	ctx := context.Background()
	op := &memOpener{}
	sup := newTestSupervisor(t, op, config.Defaults())
	if err := sup.Open(ctx, Page{ID: "p1", URL: "https://a.com/"}); err != nil {
		t.Fatal(err)
	}

	sup.Suspend()
	pages := sup.Pages()
	if len(pages) != 1 || pages[0].Running {
		t.Errorf("Pages after suspend: got %+v", pages)
	}
	if _, err := sup.Engine("p1"); err == nil {
		t.Error("Engine after suspend: want error")
	}

	if err := sup.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := recordCount(t, sup, "p1"); got != 2 {
		t.Errorf("records after resume: got %d, want 2", got)
	}
	if opens, closes := op.counts(); opens != 2 || closes != 1 {
		t.Errorf("counts: got opens=%d closes=%d", opens, closes)
	}
}

func TestSupervisorOpenErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	sup := newTestSupervisor(t, &memOpener{fail: boom}, config.Defaults())

	if err := sup.Open(ctx, Page{ID: "p1"}); err == nil {
		t.Error("Open without url: want error")
	}
	if err := sup.Open(ctx, Page{ID: "p1", URL: "https://a.com/"}); !errors.Is(err, boom) {
		t.Errorf("Open: got %v, want boom", err)
	}
	if _, err := NewSupervisor(SupervisorOptions{Source: config.NewStatic(config.Defaults())}); err == nil {
		t.Error("NewSupervisor without opener: want error")
	}
}

func TestDaemonFollowsStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "unveil.db")
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
settings:
  whitelist: [seeded.com]
pages:
  - id: news
    url: https://news.example.com/
store:
  path: %s
  poll_interval: 10ms
`, dbPath)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	op := &memOpener{}
	d, err := NewDaemon(cfg, WithOpener(op))
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Stop()

	sup := d.Supervisor()
	if got := recordCount(t, sup, "news"); got != 2 {
		t.Fatalf("records: got %d, want 2", got)
	}
	st, _ := d.Store().GetSettings(ctx)
	if !st.Whitelisted("seeded.com") {
		t.Errorf("store not seeded from config: %+v", st)
	}

	if _, err := d.Store().AddWhitelist(ctx, "news.example.com"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "whitelist push", func() bool {
		eng, err := sup.Engine("news")
		if err != nil {
			return false
		}
		s, err := eng.Stats(ctx)
		return err == nil && s.Whitelisted && s.Hidden == 0
	})

	if err := d.Store().UpsertPage(ctx, Page{ID: "extra", URL: "https://extra.com/"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "stored page opened", func() bool {
		_, err := sup.Engine("extra")
		return err == nil
	})
}

func TestDaemonRecordsEventHistory(t *testing.T) {
	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events.db")
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
pages:
  - id: news
    url: https://news.example.com/
sinks:
  - type: sqlite
    path: %s
`, eventsPath)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	d, err := NewDaemon(cfg, WithOpener(&memOpener{}))
	if err != nil {
		t.Fatalf("NewDaemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := recordCount(t, d.Supervisor(), "news"); got != 2 {
		t.Fatalf("records: got %d, want 2", got)
	}
	d.Stop()

	db, err := dbopen.Open(eventsPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	evs, err := EventHistory(context.Background(), db, "news", 0)
	if err != nil {
		t.Fatalf("EventHistory: %v", err)
	}
	if len(evs) == 0 {
		t.Fatal("no events recorded")
	}
}
