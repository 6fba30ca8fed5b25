package admin

import (
	"net/http"

	"github.com/arrowglass/ledgersink/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// RegisterRoutes wires the admin API onto the given mux using a chi router.
func RegisterRoutes(mux *http.ServeMux, handlers *Handlers) {
	r := chi.NewRouter()

	r.Get("/healthz", handlers.handleHealth)
	r.Get("/stats", handlers.handleStats)

	r.Route("/tables", func(r chi.Router) {
		r.Post("/{table}/resume", func(w http.ResponseWriter, req *http.Request) {
			table := chi.URLParam(req, "table")
			if table == "" {
				writeErrorResponse(w, http.StatusBadRequest, "table name is required")
				return
			}
			handlers.handleResumeTable(w, req, table)
		})
	})

	if metrics := telemetry.GetMetricsHandler(); metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	mux.Handle("/admin", http.RedirectHandler("/admin/", http.StatusMovedPermanently))
	mux.Handle("/admin/", http.StripPrefix("/admin", r))

	log.Info().Msg("Admin endpoints enabled at /admin/*")
}
