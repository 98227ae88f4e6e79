package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// defaultUser scopes requests that carry no X-Study-User header. Single-user
// installs never need to set it.
const defaultUser = "default"

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// userID resolves the user scope for a request. Path separators are not
// tolerated since the value names a library subdirectory.
func userID(r *http.Request) string {
	u := strings.TrimSpace(r.Header.Get("X-Study-User"))
	if u == "" {
		return defaultUser
	}
	u = strings.Map(func(c rune) rune {
		switch c {
		case '/', '\\', ':', 0:
			return '_'
		}
		return c
	}, u)
	if u == "." || u == ".." {
		return defaultUser
	}
	return u
}
