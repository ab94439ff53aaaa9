package middleware

import (
	"fmt"
	"net/http"
)

// CacheControl marks successful GET responses as publicly cacheable for
// maxAge seconds. Any other response is sent with "no-store" so error pages
// never stick in shared caches.
func CacheControl(maxAge int) func(http.Handler) http.Handler {
	public := fmt.Sprintf("public, max-age=%d", maxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			rec := newStatusRecorder(w)
			rec.onHeader = func(status int) {
				if status == http.StatusOK {
					w.Header().Set("Cache-Control", public)
				} else {
					w.Header().Set("Cache-Control", "no-store")
				}
			}
			next.ServeHTTP(rec, r)
			if !rec.wroteHeader {
				rec.WriteHeader(http.StatusOK)
			}
		})
	}
}
