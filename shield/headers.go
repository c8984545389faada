package shield

import "net/http"

// HeaderConfig lists the headers set on every response. Empty values are
// skipped.
type HeaderConfig struct {
	ContentTypeOptions string
	FrameOptions       string
	ReferrerPolicy     string
	CacheControl       string
	CSP                string
}

// APIHeaders suits a JSON API: nothing framed, sniffed or cached.
func APIHeaders() HeaderConfig {
	return HeaderConfig{
		ContentTypeOptions: "nosniff",
		FrameOptions:       "DENY",
		ReferrerPolicy:     "no-referrer",
		CacheControl:       "no-store",
		CSP:                "default-src 'none'; frame-ancestors 'none'",
	}
}

// SecurityHeaders sets cfg on every response before the handler runs.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	set := [][2]string{
		{"X-Content-Type-Options", cfg.ContentTypeOptions},
		{"X-Frame-Options", cfg.FrameOptions},
		{"Referrer-Policy", cfg.ReferrerPolicy},
		{"Cache-Control", cfg.CacheControl},
		{"Content-Security-Policy", cfg.CSP},
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range set {
				if kv[1] != "" {
					h.Set(kv[0], kv[1])
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
