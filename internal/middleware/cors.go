// Package middleware provides HTTP middleware for the coaching API.
package middleware

import (
	"net/http"
	"strings"
)

// allowedHeaders includes the header the host uses to name its coaching session.
var allowedHeaders = strings.Join([]string{"Content-Type", "X-Coach-Session-ID"}, ", ")

// CORS returns middleware that handles CORS headers for the chat host origins.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			wildcard, explicit := false, false
			for _, o := range allowedOrigins {
				switch {
				case o == "*":
					wildcard = true
				case origin != "" && strings.EqualFold(o, origin):
					explicit = true
				}
			}

			if origin != "" && (wildcard || explicit) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				w.Header().Add("Vary", "Origin")
				// Credentials only for explicit origins; echoing a wildcard
				// origin with credentials enables CSRF.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Origins returns the CORS origins for a frontend URL: the URL's origin in
// production, any origin during development.
func Origins(frontendURL string, isDev bool) []string {
	if isDev {
		return []string{"*"}
	}
	u := strings.TrimRight(frontendURL, "/")
	if i := strings.Index(u, "://"); i >= 0 {
		if j := strings.Index(u[i+3:], "/"); j >= 0 {
			u = u[:i+3+j]
		}
	}
	return []string{u}
}
