// Package clean runs the overlay engine over a static HTML document and
// renders what a reader sees once the overlays are gone.
package clean

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/unveil/dom"
	"github.com/hazyhaar/unveil/dom/memdom"
	"github.com/hazyhaar/unveil/overlay"
)

// Format selects the rendering of the cleaned document.
type Format string

const (
	FormatHTML     Format = "html"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// ParseFormat accepts html, markdown (or md) and text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "html":
		return FormatHTML, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt":
		return FormatText, nil
	}
	return "", fmt.Errorf("clean: unknown format %q", s)
}

// Options configures Clean.
type Options struct {
	Settings overlay.Settings
	Format   Format
	// Sanitize passes HTML output through a bluemonday UGC policy.
	// Markdown is always built from sanitized HTML.
	Sanitize bool
	// Viewport used for geometry. Default: memdom.DefaultViewport.
	Viewport dom.Viewport
	Logger   *slog.Logger
}

// Removed describes one element dropped from the output.
type Removed struct {
	Tag    string `json:"tag"`
	ID     string `json:"id,omitempty"`
	Source string `json:"source"`
	Reason string `json:"reason,omitempty"`
}

// Result is a cleaned document.
type Result struct {
	URL     string    `json:"url"`
	Output  string    `json:"output"`
	Removed []Removed `json:"removed"`
}

// Clean parses r, runs one engine pass with opts.Settings and renders the
// document without the hidden elements. A whitelisted or disabled page
// comes back unchanged apart from formatting.
func Clean(ctx context.Context, r io.Reader, pageURL string, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Format == "" {
		opts.Format = FormatHTML
	}
	var mopts []memdom.Option
	if opts.Viewport.Width > 0 && opts.Viewport.Height > 0 {
		mopts = append(mopts, memdom.WithViewport(opts.Viewport))
	}
	doc, err := memdom.Parse(r, pageURL, mopts...)
	if err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}

	st := opts.Settings
	st.ShowRestoreButton = false
	removed, err := sweep(ctx, doc, st, opts.Logger)
	if err != nil {
		return nil, err
	}
	res := &Result{URL: pageURL, Removed: removed}

	gq := goquery.NewDocumentFromNode(doc.Root())
	gq.Find("[" + overlay.MarkerAttr + "], [" + dom.UIAttr + "]").Remove()

	res.Output, err = render(gq, pageURL, opts)
	if err != nil {
		return nil, err
	}
	opts.Logger.Debug("clean: done", "url", pageURL, "removed", len(res.Removed), "format", opts.Format)
	return res, nil
}

// sweep runs an engine over doc until its initial pass has settled and
// reports what it hid.
func sweep(ctx context.Context, doc *memdom.Document, st overlay.Settings, logger *slog.Logger) ([]Removed, error) {
	eng, err := overlay.NewEngine(doc, overlay.Options{
		PageID: "clean",
		Source: overlay.NewStatic(st),
		After:  func(time.Duration, func()) {},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		<-eng.Done()
	}()
	go eng.Run(runCtx)

	if err := eng.Start(ctx); err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}
	// Scroll-lock and style writes during the sweep queue follow-up
	// batches; one flush drains them.
	if err := eng.Flush(ctx); err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}
	recs, err := eng.Records(ctx)
	if err != nil {
		return nil, fmt.Errorf("clean: %w", err)
	}
	out := make([]Removed, 0, len(recs))
	for _, rec := range recs {
		rm := Removed{Tag: rec.Element.TagName(), Source: string(rec.Source), Reason: rec.Reason}
		rm.ID, _ = rec.Element.ElementID()
		out = append(out, rm)
	}
	return out, nil
}

func render(gq *goquery.Document, pageURL string, opts Options) (string, error) {
	switch opts.Format {
	case FormatText:
		body := gq.Find("body")
		body.Find("script, style, noscript, template").Remove()
		return collapse(body.Text()), nil
	case FormatMarkdown:
		src, err := gq.Html()
		if err != nil {
			return "", fmt.Errorf("clean: render: %w", err)
		}
		conv := converter.NewConverter(converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		))
		md, err := conv.ConvertString(bluemonday.UGCPolicy().Sanitize(src), converter.WithDomain(pageURL))
		if err != nil {
			return "", fmt.Errorf("clean: markdown: %w", err)
		}
		return strings.TrimSpace(md), nil
	default:
		src, err := gq.Html()
		if err != nil {
			return "", fmt.Errorf("clean: render: %w", err)
		}
		if opts.Sanitize {
			src = bluemonday.UGCPolicy().Sanitize(src)
		}
		return src, nil
	}
}

// collapse joins the non-empty lines of s, trimming each.
func collapse(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
