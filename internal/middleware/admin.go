package middleware

import (
	"crypto/subtle"
	"net/http"
)

// AdminTokenHeader carries the shared operator secret.
const AdminTokenHeader = "X-Admin-Token"

// AdminOnly requires the X-Admin-Token header to equal token.
func AdminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
