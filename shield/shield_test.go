package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chain(h http.Handler, mws []func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(APIHeaders())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for k, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(k); got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}

	h = SecurityHeaders(HeaderConfig{FrameOptions: "SAMEORIGIN"})(http.NotFoundHandler())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Header().Get("Cache-Control") != "" {
		t.Error("empty header value was set")
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("declared oversize: got %d, want 413", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	req.ContentLength = -1
	h.ServeHTTP(httptest.NewRecorder(), req)
	if readErr == nil {
		t.Error("undeclared oversize: want read error")
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small")))
	if readErr != nil {
		t.Errorf("small body: got %v", readErr)
	}
}

func TestAPIStackHead(t *testing.T) {
	var method string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}), APIStack(1024))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/pages", nil))
	if method != http.MethodGet {
		t.Errorf("HEAD: handler saw %q, want GET", method)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing from stack")
	}
}
