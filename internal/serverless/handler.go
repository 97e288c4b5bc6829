package serverless

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/ingest"
	"github.com/QThans/MinerU-runpod/internal/observability"
	"github.com/QThans/MinerU-runpod/internal/pipeline"
	"github.com/QThans/MinerU-runpod/internal/worker"
)

// Name under which the input is stored and artifacts are written.
const documentName = "input"

// Job is one unit of work handed out by the queue.
type Job struct {
	ID    string         `json:"id"`
	Input map[string]any `json:"input"`
}

// JobResult is returned for every job. Failures are reported through Status
// and Error, never as a Go error.
type JobResult struct {
	Status        string `json:"status"`
	Backend       string `json:"backend,omitempty"`
	Method        string `json:"method,omitempty"`
	Lang          string `json:"lang,omitempty"`
	MineruVersion string `json:"mineru_version,omitempty"`
	Content       string `json:"content,omitempty"`
	Format        string `json:"format,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Failed reports whether the job ended in error.
func (r JobResult) Failed() bool { return r.Status != "success" }

// HandleProvider hands out the shared pipeline handle.
type HandleProvider interface {
	Get(ctx context.Context) (*pipeline.Handle, error)
	Ready() bool
}

// Handler processes jobs.
type Handler struct {
	provider HandleProvider
	pool     *worker.Pool
	ingestor *ingest.Ingestor
	cfg      config.ServerlessConfig
	logger   *observability.Logger
}

// NewHandler creates a job handler.
func NewHandler(logger *observability.Logger, cfg config.ServerlessConfig, provider HandleProvider, pool *worker.Pool, ingestor *ingest.Ingestor) *Handler {
	return &Handler{
		provider: provider,
		pool:     pool,
		ingestor: ingestor,
		cfg:      cfg,
		logger:   logger,
	}
}

// Handle runs job to completion. Invalid input is rejected before anything
// is written to disk; every other failure carries the backend and engine
// version. The job workspace is removed on every path.
func (h *Handler) Handle(ctx context.Context, job Job) JobResult {
	logger := h.logger.WithJob(job.ID)
	logger.Info().Int("params", len(job.Input)).Msg("Received job")

	params, err := ParseParameters(job.Input)
	if err != nil {
		logger.Error().Err(err).Msg("Input validation failed")
		return JobResult{Status: "error", Error: domain.UserMessage(err)}
	}

	start := time.Now()
	result := h.process(ctx, params, logger)
	logger.Info().
		Str("status", result.Status).
		Str("backend", params.Backend).
		Str("format", params.ReturnFormat).
		Dur("elapsed", time.Since(start)).
		Msg("Job finished")
	return result
}

func (h *Handler) process(ctx context.Context, params JobParameters, logger *observability.Logger) JobResult {
	version := "unknown"
	fail := func(err error) JobResult {
		logger.Error().Err(err).Msg("Job failed")
		return JobResult{
			Status:        "error",
			Error:         domain.UserMessage(err),
			Backend:       params.Backend,
			MineruVersion: version,
		}
	}

	handle, err := h.provider.Get(ctx)
	if err != nil {
		return fail(err)
	}
	version = handle.Version()

	ws, err := ingest.NewWorkspace(h.cfg.TempDir, "mineru_")
	if err != nil {
		return fail(err)
	}
	defer func() {
		logger.Debug().Str("dir", ws.Dir()).Msg("Cleaning up job workspace")
		if err := ws.Close(); err != nil {
			logger.Warn().Err(err).Str("dir", ws.Dir()).Msg("Failed to remove job workspace")
		}
	}()

	outputDir := ws.Path("output")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fail(domain.IOError("create output directory", err))
	}

	ext := params.Extension()
	if !ingest.JobExtensions.Contains(ext) {
		return fail(domain.UnsupportedFormatError(
			fmt.Sprintf("Unsupported file type: %s. Supported: %s", ext, optionList(ingest.JobExtensions))))
	}

	file, err := h.acquire(ctx, ws, params, documentName+"."+ext, logger)
	if err != nil {
		return fail(err)
	}

	req := domain.ParseRequest{
		ExtractOptions:  params.Options(),
		InputPath:       file.Path,
		OutputDir:       outputDir,
		Name:            documentName,
		DumpMarkdown:    params.ReturnFormat == FormatMarkdown,
		DumpMiddleJSON:  params.ReturnFormat == FormatJSON,
		DumpContentList: params.ReturnFormat == FormatContentList,
	}

	logger.Info().
		Str("backend", params.Backend).
		Str("method", params.Method).
		Int64("size_bytes", file.SizeBytes).
		Msg("Processing document")

	if err := h.pool.Do(ctx, func(ctx context.Context) error {
		return handle.Parse(ctx, req)
	}); err != nil {
		return fail(err)
	}

	result := JobResult{
		Status:        "success",
		Backend:       params.Backend,
		Method:        params.Method,
		Lang:          params.Lang,
		MineruVersion: version,
	}

	suffix, missing := artifact(params.ReturnFormat)
	path := domain.ArtifactPath(outputDir, documentName, params.Backend, params.Method, suffix)
	content, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(content)) == "" {
		logger.Error().Str("path", path).Msg(missing)
		result.Status = "error"
		result.Error = missing
		return result
	}

	result.Content = string(content)
	result.Format = params.ReturnFormat
	return result
}

func (h *Handler) acquire(ctx context.Context, ws *ingest.Workspace, params JobParameters, filename string, logger *observability.Logger) (*domain.IngestedFile, error) {
	if params.FileBase64 != "" {
		logger.Info().Msg("Decoding base64 file content")
		return h.ingestor.IngestInline(ctx, ws, params.FileBase64, filename, h.cfg.MaxFileBytes)
	}
	return h.ingestor.IngestRemote(ctx, ws, params.FileURL, filename, h.cfg.MaxFileBytes)
}

// HealthCheck reports whether the pipeline can be obtained.
func (h *Handler) HealthCheck(ctx context.Context) bool {
	if _, err := h.provider.Get(ctx); err != nil {
		h.logger.Error().Err(err).Msg("Health check failed")
		return false
	}
	return true
}
