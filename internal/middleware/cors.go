// Package middleware provides HTTP middleware for the chat API.
package middleware

import "net/http"

// CORS returns middleware that handles CORS headers.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			explicit := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
				}
				if o != "*" && o == origin {
					explicit = true
				}
			}

			if allowed && origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ClientIDHeader)
				w.Header().Add("Vary", "Origin")
				// Credentials only for explicitly listed origins.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
