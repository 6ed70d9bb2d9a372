package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes builds the local status surface. /metrics is only mounted when
// a gatherer is given.
func SetupRoutes(src Source, g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Get("/readyz", Readyz(src))
	r.Get("/state", State(src))
	if g != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	}
	return r
}
