package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"pcoservices/server/internal/logger"
	"pcoservices/server/internal/observability"
)

// Recovery is HTTP middleware that recovers from panics.
// It logs the stack trace and returns a 500 Internal Server Error.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				requestID := GetRequestID(r.Context())
				logger.Errorw("panic recovered",
					"request_id", requestID,
					"panic", fmt.Sprintf("%v", err),
					"stack", string(debug.Stack()),
				)

				// Log to Loki for alerting
				observability.LogSecurityEvent(requestID, subjectOf(r.Context()), "panic_recovered", map[string]any{
					"error": fmt.Sprintf("%v", err),
				})

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error":"internal_server_error","message":"An unexpected error occurred"}`)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
