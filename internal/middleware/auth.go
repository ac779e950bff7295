package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// BearerSecret requires "Authorization: Bearer <secret>". An empty secret
// lets every request through.
func BearerSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasBearer(r, secret) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HasBearer reports whether r carries secret as its bearer token. It is
// always false for an empty secret.
func HasBearer(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	return len(parts) == 2 && parts[0] == "Bearer" &&
		subtle.ConstantTimeCompare([]byte(parts[1]), []byte(secret)) == 1
}
