package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/clone-finder/internal/facedetect"
	"github.com/kozaktomas/clone-finder/internal/web/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) setupRoutes() {
	mode, err := facedetect.ParseMode(s.config.Detector.Mode)
	if err != nil {
		s.logger.Warn("invalid detector mode, using hog", "mode", s.config.Detector.Mode)
		mode = facedetect.ModeHOG
	}

	// Create handlers
	searchHandler := handlers.NewSearchHandler(s.deps.Search, s.deps.Detector, mode, s.config.Search.K, s.logger)
	statsHandler := handlers.NewStatsHandler(s.deps.Store, s.deps.Search, s.logger)
	indexHandler := handlers.NewIndexHandler(s.deps.Search, statsHandler, s.logger)

	if s.deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.Health(s.deps.Search))
		r.Post("/search", searchHandler.Search)
		r.Get("/stats", statsHandler.Get)
		r.Post("/index/rebuild", indexHandler.Rebuild)
	})
}
