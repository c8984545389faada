package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/unveil/overlay/events"
)

// Webhook POSTs JSON envelopes to a URL, retrying transient failures with
// exponential backoff.
type Webhook struct {
	url        string
	client     *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets the maximum number of retries. Default: 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.maxRetries = n }
}

// WithWebhookBackoff sets the first retry delay; each retry doubles it.
// Default: 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookClient replaces the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookLogger sets a custom logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    time.Second,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Delivery headers. The event ID is stable across retries so receivers
// can drop duplicates.
const (
	HeaderEvent    = "X-Unveil-Event"
	HeaderDelivery = "X-Unveil-Delivery"
	HeaderPage     = "X-Unveil-Page"
)

func (w *Webhook) SendStats(ctx context.Context, ev events.Stats) error {
	return w.post(ctx, events.TypeStats, ev.ID, ev.PageID, ev)
}

func (w *Webhook) SendRestoreAvailable(ctx context.Context, ev events.RestoreAvailable) error {
	return w.post(ctx, events.TypeRestoreAvailable, ev.ID, ev.PageID, ev)
}

func (w *Webhook) Close() error { return nil }

func (w *Webhook) post(ctx context.Context, typ events.Type, id, pageID string, v any) error {
	body, err := events.Encode(typ, v)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	hdr := http.Header{}
	hdr.Set("Content-Type", "application/json")
	hdr.Set(HeaderEvent, string(typ))
	hdr.Set(HeaderDelivery, id)
	hdr.Set(HeaderPage, pageID)

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(w.backoff << (attempt - 1))
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
		retry, err := w.deliver(ctx, hdr, body)
		if err == nil {
			return nil
		}
		lastErr = err
		w.logger.Warn("webhook: delivery failed", "event", typ, "page", pageID, "attempt", attempt+1, "error", err)
		if !retry {
			return err
		}
	}
	return fmt.Errorf("webhook: all retries exhausted: %w", lastErr)
}

// deliver makes one request. Network errors, 408, 429 and 5xx are retried;
// other statuses outside 2xx are final.
func (w *Webhook) deliver(ctx context.Context, hdr http.Header, body []byte) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("webhook: new request: %w", err)
	}
	req.Header = hdr.Clone()

	resp, err := w.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("webhook: %w", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return false, nil
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return true, fmt.Errorf("webhook: status %d", code)
	default:
		return false, fmt.Errorf("webhook: status %d", code)
	}
}
