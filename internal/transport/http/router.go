package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fiscus/internal/platform/middleware"
	"fiscus/pkg/platform/httputil"
)

// NewRouter assembles the HTTP surface: the versioned API group behind the
// middleware chain, with liveness and metrics outside it so probes and
// scrapers never hit auth or flood the request log.
func NewRouter(h *InvoiceHandler, validator middleware.JWTValidator, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))

	r.Get("/healthz", handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.RequestLogger(logger))
		if validator != nil {
			api.Use(middleware.RequireAuth(validator, logger))
		} else {
			logger.Warn("api auth disabled: no signing key configured")
		}
		h.Register(api)
	})

	return r
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
