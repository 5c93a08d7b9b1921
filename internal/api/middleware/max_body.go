package middleware

import (
	"fmt"
	"net/http"

	"github.com/as775116191/ragflow/internal/api"
)

// MaxBodyBytes caps request bodies at limit bytes. Requests that declare a
// larger Content-Length are refused up front; chunked bodies fail with
// *http.MaxBytesError once the handler reads past the limit. A limit <= 0
// disables the check.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit <= 0 || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", limit))
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
