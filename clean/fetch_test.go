package clean

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var article = "<html><body><article>" + strings.Repeat("<p>A paragraph of readable article text.</p>", 20) + "</article></body></html>"

func TestIsSufficient(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"article", article, true},
		{"tiny", "<html><body>hi</body></html>", false},
		{"react shell", `<html><body><div id="root"></div>` + strings.Repeat("<script>var x=1;</script>", 40) + "</body></html>", false},
		{"script heavy", "<html><body><p>short</p><script>" + strings.Repeat("x", 4000) + "</script></body></html>", false},
		{"noscript notice", "<html><body>" + strings.Repeat("<p>text text text</p>", 30) + "<noscript>Enable JavaScript to continue</noscript></body></html>", false},
	}
	for _, tc := range cases {
		if got := IsSufficient([]byte(tc.body)); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFetch(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(article))
	}))
	defer srv.Close()

	f := NewFetcher(WithClient(srv.Client()), WithUserAgent("test-agent"))
	p, err := f.Fetch(context.Background(), srv.URL+"/story")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if ua != "test-agent" {
		t.Errorf("user agent: got %q", ua)
	}
	if p.StatusCode != http.StatusOK || !p.Sufficient || p.URL != srv.URL+"/story" {
		t.Errorf("page: got status=%d sufficient=%v url=%q", p.StatusCode, p.Sufficient, p.URL)
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); err == nil {
		t.Error("Fetch 404: want error")
	}
}
