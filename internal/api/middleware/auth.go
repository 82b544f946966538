package middleware

import (
	"crypto/subtle"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// BasicAuth returns middleware requiring HTTP basic auth against a bcrypt
// password hash. Paths listed in open pass through unauthenticated. An empty
// username disables the check.
func BasicAuth(username, passwordHash string, open ...string) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(open))
	for _, p := range open {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		if username == "" || passwordHash == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			user, pass, ok := r.BasicAuth()
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
			if !ok || !userOK || bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="booking-sync"`)
				WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "Authentication required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
