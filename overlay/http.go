package overlay

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/unveil/kit"
	"github.com/hazyhaar/unveil/shield"
)

// maxRequestBody caps control request bodies.
const maxRequestBody = 64 << 10

// NewHandler returns the HTTP control API for sup:
//
//	GET  /pages
//	GET  /pages/{pageID}/stats
//	POST /pages/{pageID}/toggle
//	POST /pages/{pageID}/whitelist        {"domain": "..."}
//	POST /pages/{pageID}/remove-at-point  {"x": 0, "y": 0}
//	POST /pages/{pageID}/remove-by-id     {"id": "..."}
//	POST /pages/{pageID}/restore
//	POST /pages/{pageID}/selection
func NewHandler(sup *Supervisor, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	c := newControls(sup, logger)
	h := &httpAPI{c: c, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	for _, mw := range shield.APIStack(maxRequestBody) {
		r.Use(mw)
	}
	r.Use(h.kitContext)

	r.Get("/pages", h.serve(c.pages, func(*http.Request) (any, error) { return nil, nil }))
	r.Route("/pages/{pageID}", func(r chi.Router) {
		r.Get("/stats", h.serve(c.stats, decodePage))
		r.Post("/toggle", h.serve(c.toggle, decodePage))
		r.Post("/whitelist", h.serve(c.whitelist, decodeBody[whitelistRequest]))
		r.Post("/remove-at-point", h.serve(c.removeAtPoint, decodeBody[pointRequest]))
		r.Post("/remove-by-id", h.serve(c.removeByID, decodeBody[idRequest]))
		r.Post("/restore", h.serve(c.restore, decodePage))
		r.Post("/selection", h.serve(c.selection, decodePage))
	})
	return r
}

type httpAPI struct {
	c      *controls
	logger *slog.Logger
}

// kitContext copies the transport and request ID into the kit context keys.
func (h *httpAPI) kitContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithTransport(r.Context(), kit.TransportHTTP)
		ctx = kit.WithRequestID(ctx, middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *httpAPI) serve(ep kit.Endpoint, decode func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := decode(r)
		if err != nil {
			status := http.StatusBadRequest
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				status = http.StatusRequestEntityTooLarge
			}
			writeError(w, status, err)
			return
		}
		resp, err := ep(r.Context(), req)
		if err != nil {
			writeError(w, statusOf(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func decodePage(r *http.Request) (any, error) {
	return &pageRequest{PageID: chi.URLParam(r, "pageID")}, nil
}

// pageScoped is implemented by request types that carry a page ID.
type pageScoped interface {
	whitelistRequest | pointRequest | idRequest
}

func decodeBody[T pageScoped](r *http.Request) (any, error) {
	req := new(T)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	id := chi.URLParam(r, "pageID")
	switch v := any(req).(type) {
	case *whitelistRequest:
		v.PageID = id
	case *pointRequest:
		v.PageID = id
	case *idRequest:
		v.PageID = id
	}
	return req, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownPage):
		return http.StatusNotFound
	case errors.Is(err, ErrClosed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
