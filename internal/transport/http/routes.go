package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

func Routes(h *Handler, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// our logger (after RequestID)
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(Auth(jwtSecret))

		r.Post("/scrape", h.StartScrape)

		r.Route("/search", func(r chi.Router) {
			r.Post("/", h.Search)
			r.Get("/stream", h.StreamSearch)
			r.Get("/history", h.SearchHistory)
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Get("/active", h.ActiveJob)
			r.Get("/history", h.JobHistory)
			r.Post("/{id}/stop", h.StopJob)
		})

		r.Route("/user", func(r chi.Router) {
			r.Get("/me", h.Me)
			r.Get("/usage", h.Usage)
			r.Post("/credits/grant", h.GrantCredits)
		})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
