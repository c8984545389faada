package clean

import (
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/unveil/overlay"
)

const paywallPage = `<html><head><style>
.paywall { position: fixed; top: 0; left: 0; width: 100%; height: 100%; z-index: 1000; background: #fff; }
.scrim { position: fixed; top: 0; left: 0; width: 100%; height: 100%; background-color: rgba(0,0,0,0.5); }
</style></head>
<body class="modal-open">
<div id="wall" class="paywall">Subscribe now to keep reading</div><div id="scrim" class="scrim"></div>
<article><h1>Headline</h1><p>The story <a href="/more">continues</a>.</p><script>track()</script></article>
</body></html>`

const pageURL = "https://news.example.com/article/42"

func run(t *testing.T, opts Options) *Result {
	t.Helper()
	res, err := Clean(context.Background(), strings.NewReader(paywallPage), pageURL, opts)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	return res
}

func TestCleanHTMLDropsOverlays(t *testing.T) {
	res := run(t, Options{Settings: overlay.DefaultSettings()})

	if len(res.Removed) != 2 {
		t.Fatalf("removed: got %d, want 2", len(res.Removed))
	}
	if res.Removed[0].ID != "wall" || res.Removed[0].Source != "auto" {
		t.Errorf("first removal: got %+v, want wall/auto", res.Removed[0])
	}
	if res.Removed[1].ID != "scrim" || res.Removed[1].Source != "backdrop" {
		t.Errorf("second removal: got %+v, want scrim/backdrop", res.Removed[1])
	}
	for _, gone := range []string{"Subscribe now", overlay.MarkerAttr, "unveil-restore-btn"} {
		if strings.Contains(res.Output, gone) {
			t.Errorf("output still contains %q", gone)
		}
	}
	if !strings.Contains(res.Output, "<h1>Headline</h1>") {
		t.Errorf("article lost: %s", res.Output)
	}
}

func TestCleanWhitelistedPageKeepsEverything(t *testing.T) {
	st := overlay.DefaultSettings()
	st.Whitelist = []string{"news.example.com"}
	res := run(t, Options{Settings: st})

	if len(res.Removed) != 0 {
		t.Errorf("removed: got %d, want 0", len(res.Removed))
	}
	if !strings.Contains(res.Output, "Subscribe now") {
		t.Error("whitelisted page lost its overlay")
	}
}

func TestCleanDisabled(t *testing.T) {
	st := overlay.DefaultSettings()
	st.Enabled = false
	if res := run(t, Options{Settings: st}); len(res.Removed) != 0 {
		t.Errorf("removed: got %d, want 0", len(res.Removed))
	}
}

func TestCleanCustomSelector(t *testing.T) {
	st := overlay.DefaultSettings()
	st.CustomSelectors = []string{"article h1"}
	res := run(t, Options{Settings: st, Format: FormatText})
	if strings.Contains(res.Output, "Headline") {
		t.Errorf("custom selector target kept: %q", res.Output)
	}
}

func TestCleanMarkdown(t *testing.T) {
	res := run(t, Options{Settings: overlay.DefaultSettings(), Format: FormatMarkdown})

	if !strings.Contains(res.Output, "# Headline") {
		t.Errorf("markdown heading missing: %q", res.Output)
	}
	if !strings.Contains(res.Output, "https://news.example.com/more") {
		t.Errorf("relative link not resolved: %q", res.Output)
	}
	if strings.Contains(res.Output, "Subscribe") || strings.Contains(res.Output, "track()") {
		t.Errorf("markdown kept overlay or script: %q", res.Output)
	}
}

func TestCleanText(t *testing.T) {
	res := run(t, Options{Settings: overlay.DefaultSettings(), Format: FormatText})
	if strings.Contains(res.Output, "Subscribe") {
		t.Errorf("text kept overlay: %q", res.Output)
	}
	if !strings.Contains(res.Output, "The story continues.") {
		t.Errorf("text: got %q", res.Output)
	}
}

func TestCleanSanitize(t *testing.T) {
	res := run(t, Options{Settings: overlay.DefaultSettings(), Sanitize: true})
	if strings.Contains(res.Output, "<script") {
		t.Errorf("sanitized output kept script: %s", res.Output)
	}
	if !strings.Contains(res.Output, "Headline") {
		t.Errorf("sanitized output lost text: %s", res.Output)
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatHTML, "HTML": FormatHTML, "md": FormatMarkdown, "markdown": FormatMarkdown, "text": FormatText}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q): got %q, %v, want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Error("ParseFormat(pdf): want error")
	}
}
