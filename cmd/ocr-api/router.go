// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/QThans/MinerU-runpod/cmd/ocr-api/handlers"
	"github.com/QThans/MinerU-runpod/cmd/ocr-api/middleware"
	"github.com/QThans/MinerU-runpod/internal/cache"
	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/ingest"
	"github.com/QThans/MinerU-runpod/internal/observability"
	"github.com/QThans/MinerU-runpod/internal/worker"
)

// Services are the long-lived collaborators shared by all requests.
type Services struct {
	Provider handlers.HandleProvider
	Pool     *worker.Pool
	Ingestor *ingest.Ingestor
	Results  *cache.Results
}

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, cfg *config.Config, svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	meta := handlers.NewMetaHandler(logger, cfg, svc.Provider)
	parse := handlers.NewParseHandler(logger.WithOperation("parse"), handlers.ParseConfig{
		Provider:  svc.Provider,
		Pool:      svc.Pool,
		Ingestor:  svc.Ingestor,
		Results:   svc.Results,
		CacheRefs: cfg.Cache.CacheReferences,
		MaxUpload: cfg.Ingestion.MaxUploadBytes,
		TempDir:   cfg.Ingestion.TempDir,
	})

	r.Get("/health", meta.Health)
	r.Get("/", meta.Index)

	r.Route("/parse", func(r chi.Router) {
		r.Post("/", parse.Parse)
		r.Post("/file", parse.ParseFile)
	})

	return r
}
