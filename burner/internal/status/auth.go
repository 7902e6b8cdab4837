package status

import (
	"crypto/subtle"
	"net/http"
)

// APIKey wraps next with API key authentication.
//
// If mode != "apikey", every request is passed through. Otherwise the value
// of header must equal key; a missing or wrong key is answered with 401. An
// empty key rejects every request.
func APIKey(mode, header, key string, next http.Handler) http.Handler {
	if mode != "apikey" {
		return next
	}
	if key == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			jsonErr(w, http.StatusUnauthorized, "api key not configured")
		})
	}
	want := []byte(key)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(header)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			jsonErr(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
