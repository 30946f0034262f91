package middleware

import (
	"net/http"

	"github.com/sandeepkv93/taskmanager-auth/internal/http/response"
)

// StoreUnavailable answers every request with 503. It stands in for routes
// that need the database when the service started without one.
func StoreUnavailable(_ http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		response.Error(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "credential store is unavailable", nil)
	})
}
