package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"gitlab.com/arvasys/api/eam-gateway-service/pkg/contextkeys"
)

const (
	XRequestIDHeader = "X-Request-ID"
	XSessionIDHeader = "X-Session-ID"
)

// RequestIDMiddleware injects a request ID into the context.
// It tries to get it from the X-Request-ID header, otherwise generates a new UUID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(XRequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), contextkeys.RequestIDKey, requestID)
		w.Header().Set(XRequestIDHeader, requestID) // Also set it in the response header
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionIDMiddleware injects the caller's session ID into the context. A
// missing header gets a generated session, returned in the response so the
// caller can keep polling the same background-login slot.
func SessionIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.Header.Get(XSessionIDHeader)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		ctx := context.WithValue(r.Context(), contextkeys.SessionIDKey, sessionID)
		w.Header().Set(XSessionIDHeader, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
