package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"fiscus/pkg/requestcontext"
)

// Recover converts handler panics into 500 responses. http.ErrAbortHandler
// passes through untouched; the server uses it to abort the connection.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				logger.ErrorContext(r.Context(), "panic recovered",
					"panic", rec,
					"path", r.URL.Path,
					"request_id", requestcontext.RequestID(r.Context()),
					"stack", string(debug.Stack()),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
