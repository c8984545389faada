package kit

import "context"

// Transports recorded on a call context.
const (
	TransportHTTP = "http"
	TransportMCP  = "mcp"
)

type contextKey string

const (
	transportKey contextKey = "kit_transport"
	requestIDKey contextKey = "kit_request_id"
	pageIDKey    contextKey = "kit_page_id"
)

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport defaults to TransportHTTP.
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(transportKey).(string); ok {
		return v
	}
	return TransportHTTP
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// PageScoped is implemented by requests addressed to one supervised page.
type PageScoped interface {
	PageScope() string
}

// WithPageID records the page a call is addressed to.
func WithPageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, pageIDKey, id)
}
func GetPageID(ctx context.Context) string {
	v, _ := ctx.Value(pageIDKey).(string)
	return v
}

// ScopePage copies the page ID of a PageScoped request into the context.
func ScopePage(next Endpoint) Endpoint {
	return func(ctx context.Context, req any) (any, error) {
		if p, ok := req.(PageScoped); ok && p.PageScope() != "" {
			ctx = WithPageID(ctx, p.PageScope())
		}
		return next(ctx, req)
	}
}
