package http

import (
	"net/http"

	"github.com/DRSN-tech/price-sync/internal/usecase"
	"github.com/DRSN-tech/price-sync/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

func (r *Router) Init(queue usecase.JobQueueUC) {
	r.router.Use(middleware.RequestID, middleware.Recoverer)

	r.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.router.Route("/api/v1", func(v1 chi.Router) {
		jobHandler := NewJobHandler(queue, r.logger)
		registerJobRoutes(v1, jobHandler)
	})
}

func registerJobRoutes(router chi.Router, h *JobHandler) {
	router.Post("/sync", h.triggerSync)
	router.Get("/stats", h.stats)
	router.Get("/merchants/health", h.merchantsHealth)

	router.Route("/jobs", func(jr chi.Router) {
		jr.Post("/", h.addJob)
		jr.Get("/{id}", h.getJob)
	})
}
