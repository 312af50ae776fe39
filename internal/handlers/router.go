package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every route. authn guards everything except /health.
func NewRouter(h *Handler, authn func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(authn)

		r.Get("/auth/me", h.Me)

		r.Route("/analysis", func(r chi.Router) {
			r.Get("/jobs", h.ListJobs)
			r.Delete("/jobs", h.DeleteAllJobs)
			r.Delete("/jobs/{jobID}", h.DeleteJob)

			r.Post("/solve", h.Solve)
			r.Get("/solve/{jobID}", h.GetSolution)
			r.Get("/solve/{jobID}/source", h.GetSource)
		})

		r.Post("/chat/{jobID}/explain", h.Explain)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("Request served.",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"requestId", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
