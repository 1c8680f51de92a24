package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// ClientCookieName carries the per-browser client ID.
	ClientCookieName = "fw_client_id"
	// ClientIDHeader lets non-browser clients present their ID without cookies.
	ClientIDHeader = "X-Client-ID"

	clientCookieMaxAge = 30 * 24 * time.Hour
)

type contextKey int

const clientIDKey contextKey = iota

// ClientIDFromContext extracts the client ID from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClientID stores a client ID in ctx.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIdentity assigns every caller a stable anonymous client ID, kept in a
// cookie and refreshed on each request.
func ClientIdentity(secureCookies bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := requestClientID(r)
			if clientID == "" {
				clientID = uuid.NewString()
			}

			http.SetCookie(w, &http.Cookie{
				Name:     ClientCookieName,
				Value:    clientID,
				Path:     "/",
				MaxAge:   int(clientCookieMaxAge.Seconds()),
				Expires:  time.Now().Add(clientCookieMaxAge),
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
				Secure:   secureCookies,
			})

			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), clientID)))
		})
	}
}

func requestClientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(ClientIDHeader)); isValidClientID(id) {
		return id
	}
	if c, err := r.Cookie(ClientCookieName); err == nil && isValidClientID(c.Value) {
		return c.Value
	}
	return ""
}

func isValidClientID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
