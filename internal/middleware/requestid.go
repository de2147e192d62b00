package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 128

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestID tags each request with an id, echoed in the response header, and
// stores a child of base carrying request_id in the context. A caller-supplied
// id is kept only when it is short printable ASCII.
func RequestID(base zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := r.Header.Get(HeaderRequestID)
			if !validRequestID(rid) {
				rid = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, rid)

			l := base.With().Str("request_id", rid).Logger()
			ctx := context.WithValue(r.Context(), requestIDKey, rid)
			ctx = l.WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// RequestLogger returns the request-scoped logger, or fallback outside
// RequestID.
func RequestLogger(ctx context.Context, fallback zerolog.Logger) *zerolog.Logger {
	if RequestIDFromContext(ctx) == "" {
		return &fallback
	}
	return zerolog.Ctx(ctx)
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
