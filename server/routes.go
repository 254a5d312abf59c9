package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Router returns the API routes.
// wrap, if not nil, decorates the tile handlers, handlerID names the route.
func (s *Server) Router(wrap func(handlerID string, h http.Handler) http.Handler) *mux.Router {
	if wrap == nil {
		wrap = func(_ string, h http.Handler) http.Handler { return h }
	}

	r := mux.NewRouter()
	r.Use(s.LoggingMiddleware)

	// hybrid must be registered before the generic mode route
	r.Handle("/tiles/hybrid/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.png",
		wrap("/tiles/hybrid/", http.HandlerFunc(s.HybridHandler))).Methods(http.MethodGet)
	r.Handle("/tiles/{mode:[a-z]+}/{z:[0-9]+}/{x:[0-9]+}/{y:[0-9]+}.png",
		wrap("/tiles/", s)).Methods(http.MethodGet)

	r.HandleFunc("/attribution/{mode:[a-z]+}", s.AttributionHandler).Methods(http.MethodGet)
	r.HandleFunc("/providers", s.ProvidersHandler).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.StatsHandler).Methods(http.MethodGet)
	r.Handle("/prefetch", wrap("/prefetch", http.HandlerFunc(s.PrefetchHandler))).Methods(http.MethodPost)
	r.HandleFunc("/cache/clear", s.ClearHandler).Methods(http.MethodPost)

	r.HandleFunc("/healthz", s.HealthHandler)

	// serving templates and static files
	r.PathPrefix("/static/").HandlerFunc(s.StaticHandler)
	r.Path("/").HandlerFunc(s.StaticHandler)

	return r
}
