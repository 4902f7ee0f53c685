package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/leadforge/core/internal/queue"
)

// ServiceVersion is overridden at build time via -ldflags, following the
// same "version baked in at link time, defaulted for dev builds" pattern
// Arkeep uses for its server binary.
var ServiceVersion = "dev"

// RouterConfig holds every dependency NewRouter needs. Populated once in
// cmd/server/main.go after every component is constructed.
type RouterConfig struct {
	Queue     *queue.Queue
	AnalyzeURL AnalyzeURLFunc
	Logger    *zap.Logger
}

// NewRouter builds the Chi router implementing spec §6's HTTP surface:
// one route per verb per pipeline stage, plus health and metrics. There is
// no authentication layer — the spec's HTTP API has none.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(150 * time.Second))

	h := &Handler{queue: cfg.Queue, analyzeURL: cfg.AnalyzeURL, logger: cfg.Logger}

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/prospect-queue", h.enqueueProspect)
		r.Post("/analyze-queue", h.enqueueAnalyze)
		r.Post("/analyze-url", h.analyzeURLSync)
		r.Post("/compose-queue", h.enqueueCompose)
		r.Post("/generate-queue", h.enqueueGenerate)

		r.Get("/prospect-status", h.status(stageProspect))
		r.Get("/analyze-status", h.status(stageAnalyze))
		r.Get("/compose-status", h.status(stageCompose))
		r.Get("/generate-status", h.status(stageGenerate))

		r.Post("/cancel-prospect", h.cancel(stageProspect))
		r.Post("/cancel-analyze", h.cancel(stageAnalyze))
		r.Post("/cancel-compose", h.cancel(stageCompose))
		r.Post("/cancel-generate", h.cancel(stageGenerate))
	})

	return r
}
