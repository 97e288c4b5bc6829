package handlers

import (
	"net/http"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/ingest"
	"github.com/QThans/MinerU-runpod/internal/observability"
)

// MetaHandler serves health and service metadata.
type MetaHandler struct {
	logger   *observability.Logger
	cfg      *config.Config
	provider HandleProvider
}

// NewMetaHandler creates a new meta handler.
func NewMetaHandler(logger *observability.Logger, cfg *config.Config, provider HandleProvider) *MetaHandler {
	return &MetaHandler{logger: logger, cfg: cfg, provider: provider}
}

// Health handles GET /health.
func (h *MetaHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Index handles GET /. It never constructs the pipeline.
func (h *MetaHandler) Index(w http.ResponseWriter, r *http.Request) {
	version := ""
	ready := h.provider.Ready()
	if ready {
		if handle, err := h.provider.Get(r.Context()); err == nil {
			version = handle.Version()
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"service":        h.cfg.Observability.ServiceName,
		"description":    "Document OCR and layout parsing",
		"model":          h.cfg.Pipeline.ModelName,
		"engine_version": version,
		"pipeline_ready": ready,
		"endpoints": map[string]string{
			"GET /health":      "Health check",
			"POST /parse":      "Parse a document by URL or path: {\"input\": \"...\"}",
			"POST /parse/file": "Parse an uploaded document (multipart field \"file\")",
		},
		"limits": map[string]any{
			"max_upload_bytes":   h.cfg.Ingestion.MaxUploadBytes,
			"max_upload":         domain.FormatBytes(h.cfg.Ingestion.MaxUploadBytes),
			"allowed_extensions": ingest.UploadExtensions,
		},
	})
}
