package middleware

import (
	"context"
	"net/http"
	"strings"
)

const userIDKey contextKey = "user_id"

// UserID extracts the authenticated user identity from the X-User-ID header
// set by the upstream auth layer. Authentication itself happens outside this
// service.
func UserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if uid != "" {
			r = r.WithContext(context.WithValue(r.Context(), userIDKey, uid))
		}
		next.ServeHTTP(w, r)
	})
}

// UserIDFromContext returns the user id set by UserID, or "".
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}
