package clean

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// maxBody caps a fetched document.
const maxBody = 10 << 20

// Page is a fetched HTML document.
type Page struct {
	URL        string
	HTML       []byte
	StatusCode int
	// Sufficient is false when the body looks like a script shell whose
	// content only appears after JavaScript runs.
	Sufficient bool
}

// Fetcher performs the HTTP GET behind `unveil clean <url>`.
type Fetcher struct {
	client *http.Client
	ua     string
	logger *slog.Logger
}

// FetchOption configures a Fetcher.
type FetchOption func(*Fetcher)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) FetchOption {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) FetchOption {
	return func(f *Fetcher) { f.ua = ua }
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *slog.Logger) FetchOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher with a 30s client timeout.
func NewFetcher(opts ...FetchOption) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; unveil/1.0)",
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL. Non-2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("clean: fetch: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clean: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("clean: fetch %s: status %d", pageURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("clean: fetch: read body: %w", err)
	}

	p := &Page{
		URL:        resp.Request.URL.String(),
		HTML:       body,
		StatusCode: resp.StatusCode,
		Sufficient: IsSufficient(body),
	}
	f.logger.Debug("clean: fetched",
		"url", p.URL, "status", p.StatusCode,
		"size", len(body), "sufficient", p.Sufficient)
	return p, nil
}

var shellMarkers = [][]byte{
	[]byte(`<div id="root"></div>`),
	[]byte(`<div id="app"></div>`),
	[]byte(`<div id="__next"></div>`),
	[]byte("<noscript>you need to enable javascript"),
	[]byte("<noscript>enable javascript"),
}

// IsSufficient reports whether body carries readable text without running
// scripts: at least 200 visible characters making up 10% of the bytes, and
// no empty mount point of a client-side framework.
func IsSufficient(body []byte) bool {
	if len(body) < 256 {
		return false
	}
	lower := bytes.ToLower(body)
	for _, m := range shellMarkers {
		if bytes.Contains(lower, m) {
			return false
		}
	}
	n := visibleText(body)
	return n >= 200 && float64(n)/float64(len(body)) >= 0.10
}

// visibleText counts the non-space bytes of body text outside script,
// style and template elements.
func visibleText(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	doc.Find("script, style, noscript, template").Remove()
	n := 0
	for _, f := range strings.Fields(doc.Find("body").Text()) {
		n += len(f)
	}
	return n
}
