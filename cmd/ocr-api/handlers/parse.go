package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/QThans/MinerU-runpod/internal/cache"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/ingest"
	"github.com/QThans/MinerU-runpod/internal/normalize"
	"github.com/QThans/MinerU-runpod/internal/observability"
	"github.com/QThans/MinerU-runpod/internal/worker"
)

// ParseHandler serves the extraction routes.
type ParseHandler struct {
	logger    *observability.Logger
	provider  HandleProvider
	pool      *worker.Pool
	ingestor  *ingest.Ingestor
	results   *cache.Results
	cacheRefs bool
	maxUpload int64
	tempDir   string
}

// ParseConfig holds the ParseHandler collaborators.
type ParseConfig struct {
	Provider  HandleProvider
	Pool      *worker.Pool
	Ingestor  *ingest.Ingestor
	Results   *cache.Results // nil disables caching
	CacheRefs bool           // also cache by-reference results
	MaxUpload int64
	TempDir   string
}

// NewParseHandler creates a new parse handler.
func NewParseHandler(logger *observability.Logger, cfg ParseConfig) *ParseHandler {
	return &ParseHandler{
		logger:    logger,
		provider:  cfg.Provider,
		pool:      cfg.Pool,
		ingestor:  cfg.Ingestor,
		results:   cfg.Results,
		cacheRefs: cfg.CacheRefs,
		maxUpload: cfg.MaxUpload,
		tempDir:   cfg.TempDir,
	}
}

// ParseRequestDTO is the body of POST /parse.
type ParseRequestDTO struct {
	Input string `json:"input"`
}

// ParseResponseDTO is the success body of both parse routes.
type ParseResponseDTO struct {
	Status   string `json:"status"`
	Result   []any  `json:"result"`
	Markdown string `json:"markdown"`
	Pages    int    `json:"pages"`
	Filename string `json:"filename,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

// Parse handles POST /parse. The input reference is resolved by the engine.
func (h *ParseHandler) Parse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.WithContext(ctx)

	var req ParseRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	input := strings.TrimSpace(req.Input)
	if input == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: input")
		return
	}

	logger.Info().Str("input", input).Msg("Parsing document by reference")

	var key keyFunc
	if h.cacheRefs {
		key = func(version string, opts domain.ExtractOptions) string {
			return cache.ReferenceKey(input, version, opts)
		}
	}
	doc, err := h.extract(ctx, input, key)
	if err != nil {
		logger.Error().Err(err).Msg("Parse failed")
		writeError(w, statusFor(err), domain.UserMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, ParseResponseDTO{
		Status:   "success",
		Result:   doc.Pages,
		Markdown: doc.Markdown,
		Pages:    doc.PageCount,
	})
}

// ParseFile handles POST /parse/file. The multipart body is streamed to a
// per-request workspace and never held in memory.
func (h *ParseHandler) ParseFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.logger.WithContext(ctx)

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Request must be multipart/form-data")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Missing required file field: file")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "Malformed multipart body")
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		h.parsePart(ctx, w, part.FileName(), part, logger)
		part.Close()
		return
	}
}

func (h *ParseHandler) parsePart(ctx context.Context, w http.ResponseWriter, filename string, body io.Reader, logger *observability.Logger) {
	if filename == "" {
		writeError(w, http.StatusBadRequest, "No file selected")
		return
	}
	if _, err := ingest.CheckUpload(filename); err != nil {
		writeError(w, statusFor(err), domain.UserMessage(err))
		return
	}

	ws, err := ingest.NewWorkspace(h.tempDir, "upload_")
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create workspace")
		writeError(w, http.StatusInternalServerError, domain.UserMessage(err))
		return
	}
	defer ws.Close()

	file, err := h.ingestor.IngestUpload(ctx, ws, body, filename, h.maxUpload)
	if err != nil {
		logger.Warn().Err(err).Str("filename", filename).Msg("Upload rejected")
		writeError(w, statusFor(err), domain.UserMessage(err))
		return
	}

	logger.Info().
		Str("filename", file.Name).
		Int64("size_bytes", file.SizeBytes).
		Str("sha256", file.SHA256).
		Msg("Parsing uploaded file")

	doc, err := h.extract(ctx, file.Path, func(version string, opts domain.ExtractOptions) string {
		return cache.ContentKey(file.SHA256, version, opts)
	})
	if err != nil {
		logger.Error().Err(err).Str("filename", file.Name).Msg("Parse failed")
		writeError(w, statusFor(err), domain.UserMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, ParseResponseDTO{
		Status:   "success",
		Result:   doc.Pages,
		Markdown: doc.Markdown,
		Pages:    doc.PageCount,
		Filename: file.Name,
		FileSize: file.SizeBytes,
	})
}

// keyFunc derives a result cache key from the engine version and options.
type keyFunc func(version string, opts domain.ExtractOptions) string

// extract runs the engine on the worker pool and normalizes its pages. A
// sequence that fails after at least one page still yields the pages read
// before the failure; one that fails before any page is an error. A nil
// cacheKey bypasses the result cache.
func (h *ParseHandler) extract(ctx context.Context, input string, cacheKey keyFunc) (*domain.NormalizedDocument, error) {
	handle, err := h.provider.Get(ctx)
	if err != nil {
		return nil, err
	}

	opts := domain.DefaultExtractOptions()
	results := h.results
	var key string
	if cacheKey == nil {
		results = nil
	} else {
		key = cacheKey(handle.Version(), opts)
	}
	if doc, ok := results.Get(ctx, key); ok {
		h.logger.WithContext(ctx).Debug().Str("key", key).Msg("Serving cached result")
		return doc, nil
	}

	start := time.Now()
	doc, err := worker.Run(ctx, h.pool, func(ctx context.Context) (*domain.NormalizedDocument, error) {
		raw, err := handle.Extract(ctx, input, opts)
		if err != nil {
			return nil, err
		}
		return normalize.Normalize(raw, handle)
	})

	switch {
	case err == nil:
		results.Put(ctx, key, doc)
	case domain.IsType(err, domain.ErrorTypePartialResult) && doc != nil && doc.PageCount > 0:
		h.logger.WithContext(ctx).Warn().
			Err(err).
			Int("pages", doc.PageCount).
			Msg("Returning partial result")
	default:
		return nil, err
	}

	elapsed := time.Since(start)
	event := h.logger.WithContext(ctx).Info().
		Int("pages", doc.PageCount).
		Int("markdown_len", len(doc.Markdown)).
		Dur("elapsed", elapsed)
	if elapsed > 0 {
		event = event.Float64("pages_per_sec", float64(doc.PageCount)/elapsed.Seconds())
	}
	event.Msg("Extraction complete")
	return doc, nil
}
