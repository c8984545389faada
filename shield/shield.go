// Package shield holds the HTTP middleware in front of the control API.
//
//	r := chi.NewRouter()
//	for _, mw := range shield.APIStack(64 << 10) {
//		r.Use(mw)
//	}
package shield

import "net/http"

// APIStack returns HeadToGet, SecurityHeaders(APIHeaders()) and
// MaxBody(maxBody), in that order.
func APIStack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(APIHeaders()),
		MaxBody(maxBody),
	}
}
