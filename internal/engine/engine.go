// Package engine is the extraction engine: it renders documents, sends pages
// to a vision-language model server (or a text layer or local OCR) and
// writes the parse artifacts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/ingest"
	"github.com/QThans/MinerU-runpod/internal/observability"
	"github.com/QThans/MinerU-runpod/internal/pipeline"
)

// DefaultVersion is reported when the configuration does not pin a version
const DefaultVersion = "1.0.0"

// minTextRunes is the smallest text layer treated as usable
const minTextRunes = 16

var errResultConsumed = errors.New("result sequence already consumed")

// Engine implements domain.Engine and domain.MarkdownMerger.
type Engine struct {
	cfg        config.PipelineConfig
	client     *Client
	recognizer TextRecognizer
	fetcher    *ingest.Ingestor
	tempDir    string
	logger     *observability.Logger
}

type Option func(*engineOptions)

type engineOptions struct {
	httpClient *http.Client
	recognizer TextRecognizer
	fetcher    *ingest.Ingestor
	tempDir    string
}

// WithHTTPClient sets the client used for model server calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *engineOptions) { o.httpClient = c }
}

// WithRecognizer sets the local OCR recognizer.
func WithRecognizer(r TextRecognizer) Option {
	return func(o *engineOptions) { o.recognizer = r }
}

// WithFetcher sets the ingestor used to download URL inputs.
func WithFetcher(i *ingest.Ingestor) Option {
	return func(o *engineOptions) { o.fetcher = i }
}

// WithTempDir sets where downloaded inputs are staged.
func WithTempDir(dir string) Option {
	return func(o *engineOptions) { o.tempDir = dir }
}

// New creates an engine.
func New(cfg config.PipelineConfig, logger *observability.Logger, opts ...Option) (*Engine, error) {
	if cfg.ServerURL == "" {
		return nil, domain.ConfigError("model server URL is required", nil)
	}
	if cfg.CPUThreads < 1 {
		cfg.CPUThreads = 1
	}

	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}
	if o.recognizer == nil {
		o.recognizer = DefaultRecognizer()
	}
	if o.fetcher == nil {
		o.fetcher = ingest.NewIngestor(config.DefaultConfig().Ingestion, logger)
	}

	retry := DefaultRetryConfig()
	if cfg.MaxRetries >= 0 {
		retry.MaxRetries = cfg.MaxRetries
	}

	e := &Engine{
		cfg:        cfg,
		client:     NewClient(cfg.ServerURL, cfg.APIKey, cfg.ModelName, cfg.MaxTokens, o.httpClient, retry, logger),
		recognizer: o.recognizer,
		fetcher:    o.fetcher,
		tempDir:    o.tempDir,
		logger:     logger,
	}

	ocrName := "none"
	if e.recognizer != nil {
		ocrName = e.recognizer.Name()
	}
	logger.Info().
		Str("model", cfg.ModelName).
		Str("device", cfg.Device).
		Str("precision", cfg.Precision).
		Int("cpu_threads", cfg.CPUThreads).
		Bool("enable_mkldnn", cfg.EnableMKLDNN).
		Bool("enable_hpi", cfg.EnableHPI).
		Str("local_ocr", ocrName).
		Msg("Engine configured")
	return e, nil
}

// Factory returns a pipeline.Factory building engines with opts.
func Factory(logger *observability.Logger, opts ...Option) pipeline.Factory {
	return func(ctx context.Context, cfg config.PipelineConfig) (domain.Engine, error) {
		return New(cfg, logger, opts...)
	}
}

// Version reports the engine version.
func (e *Engine) Version() string {
	if e.cfg.Version != "" {
		return e.cfg.Version
	}
	return DefaultVersion
}

// Predict opens input and returns a lazy page sequence. Pages are recognized
// in windows of CPUThreads concurrent requests and yielded in order. The
// sequence releases the input when iteration ends and cannot be restarted.
func (e *Engine) Predict(ctx context.Context, input string, opts domain.ExtractOptions) (domain.RawResult, error) {
	src, err := e.open(ctx, input)
	if err != nil {
		return nil, err
	}
	indexes, err := pageRange(src.doc.NumPages(), opts.StartPage, opts.EndPage)
	if err != nil {
		src.Close()
		return nil, err
	}

	var used atomic.Bool
	return func(yield func(domain.PageResult, error) bool) {
		if used.Swap(true) {
			yield(nil, errResultConsumed)
			return
		}
		defer src.Close()

		window := e.cfg.CPUThreads
		for start := 0; start < len(indexes); start += window {
			batch := indexes[start:min(start+window, len(indexes))]
			pages, err := e.recognizeAll(ctx, src, batch, opts)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, p := range pages {
				if !yield(p, nil) {
					return
				}
			}
		}
	}, nil
}

// Parse recognizes the requested page range and writes the requested artifacts.
func (e *Engine) Parse(ctx context.Context, req domain.ParseRequest) error {
	if req.Name == "" {
		return fmt.Errorf("parse request has no document name")
	}
	src, err := e.open(ctx, req.InputPath)
	if err != nil {
		return err
	}
	defer src.Close()

	indexes, err := pageRange(src.doc.NumPages(), req.StartPage, req.EndPage)
	if err != nil {
		return err
	}

	e.logger.Info().
		Str("backend", req.Backend).
		Str("method", req.Method).
		Str("lang", req.Lang).
		Int("pages", len(indexes)).
		Msg("Parsing document")

	pages, err := e.recognizeAll(ctx, src, indexes, req.ExtractOptions)
	if err != nil {
		return err
	}

	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	return e.writeArtifacts(req, pages, concatenatePages(texts))
}

// recognizeAll processes indexes with at most CPUThreads pages in flight and
// returns them in input order.
func (e *Engine) recognizeAll(ctx context.Context, src *source, indexes []int, opts domain.ExtractOptions) ([]*Page, error) {
	pages := make([]*Page, len(indexes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.CPUThreads)
	for i, idx := range indexes {
		g.Go(func() error {
			p, err := e.processPage(gctx, src, idx, opts)
			if err != nil {
				return fmt.Errorf("page %d: %w", idx, err)
			}
			pages[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func (e *Engine) processPage(ctx context.Context, src *source, idx int, opts domain.ExtractOptions) (*Page, error) {
	primary, fallback := planFor(opts.Backend, opts.Method)

	page := &Page{Index: idx, InputPath: src.input, settings: e.settings(opts)}

	var rendered *renderedPage
	render := func() (*renderedPage, error) {
		if rendered != nil {
			return rendered, nil
		}
		r, err := src.doc.Render(idx)
		if err != nil {
			return nil, err
		}
		rendered = r
		page.Width, page.Height = r.Width, r.Height
		return r, nil
	}

	var lastMethod, lastText string
	for _, method := range []string{primary, fallback} {
		if method == "" {
			break
		}
		text, err := e.runMethod(ctx, src, idx, method, opts, render)
		if err != nil {
			// Keep a short text layer rather than failing when OCR is unavailable.
			if errors.Is(err, ErrNoRecognizer) && lastMethod != "" {
				break
			}
			return nil, err
		}
		lastMethod, lastText = method, text
		if method == MethodTextLayer && utf8.RuneCountInString(strings.TrimSpace(text)) < minTextRunes {
			continue
		}
		break
	}
	page.Method, page.Text = lastMethod, lastText

	if page.Width == 0 {
		if _, err := render(); err != nil {
			e.logger.Debug().Err(err).Int("page", idx).Msg("Page size unavailable")
		}
	}

	page.Text = stripMarkdown(page.Text, opts.TableEnable, opts.FormulaEnable)
	page.Blocks = filterBlocks(splitBlocks(page.Text), opts.TableEnable, opts.FormulaEnable)
	return page, nil
}

func (e *Engine) runMethod(ctx context.Context, src *source, idx int, method string, opts domain.ExtractOptions,
	render func() (*renderedPage, error)) (string, error) {

	switch method {
	case MethodTextLayer:
		text, err := src.doc.Text(idx)
		if err != nil {
			return "", fmt.Errorf("read text layer: %w", err)
		}
		return textToMarkdown(text), nil

	case MethodOCR:
		if e.recognizer == nil {
			return "", ErrNoRecognizer
		}
		r, err := render()
		if err != nil {
			return "", err
		}
		text, err := e.recognizer.Recognize(ctx, r.Image, OCRLanguages(opts.Lang))
		if err != nil {
			return "", fmt.Errorf("local OCR: %w", err)
		}
		return textToMarkdown(text), nil

	default:
		r, err := render()
		if err != nil {
			return "", err
		}
		text, err := e.client.Recognize(ctx, r.Image, r.MIME, buildPrompt(opts))
		if err != nil {
			return "", err
		}
		return stripFences(text), nil
	}
}

// planFor returns the primary and fallback page methods for a backend and
// parse method. The fallback runs when the primary yields too little text.
func planFor(backend, method string) (string, string) {
	switch {
	case strings.HasPrefix(backend, "vlm"):
		return MethodVLM, ""
	case strings.HasPrefix(backend, "hybrid"):
		if method == "ocr" {
			return MethodVLM, ""
		}
		return MethodTextLayer, MethodVLM
	case backend == "pipeline":
		if method == "ocr" {
			return MethodOCR, ""
		}
		return MethodTextLayer, MethodOCR
	default:
		return MethodVLM, ""
	}
}

func (e *Engine) settings(opts domain.ExtractOptions) map[string]any {
	return map[string]any{
		"model_name":     e.cfg.ModelName,
		"device":         e.cfg.Device,
		"precision":      e.cfg.Precision,
		"cpu_threads":    e.cfg.CPUThreads,
		"enable_mkldnn":  e.cfg.EnableMKLDNN,
		"enable_hpi":     e.cfg.EnableHPI,
		"backend":        opts.Backend,
		"lang":           opts.Lang,
		"formula_enable": opts.FormulaEnable,
		"table_enable":   opts.TableEnable,
	}
}

// pageRange returns the page indexes from start to end inclusive. A negative
// end, or one past the last page, means the last page.
func pageRange(numPages, start, end int) ([]int, error) {
	if numPages <= 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	if start < 0 {
		start = 0
	}
	if end < 0 || end >= numPages {
		end = numPages - 1
	}
	if start > end {
		return nil, fmt.Errorf("start page %d is beyond the last page %d", start, numPages-1)
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out, nil
}

// source is an opened input plus whatever must be released with it
type source struct {
	input   string
	doc     document
	cleanup func() error
}

func (s *source) Close() error {
	err := s.doc.Close()
	if s.cleanup != nil {
		if cerr := s.cleanup(); err == nil {
			err = cerr
		}
	}
	return err
}

// open resolves a local path or downloads an http(s) URL, then opens it.
func (e *Engine) open(ctx context.Context, input string) (*source, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("input is empty")
	}

	path := input
	var cleanup func() error

	lower := strings.ToLower(input)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		ws, err := ingest.NewWorkspace(e.tempDir, "engine_")
		if err != nil {
			return nil, err
		}
		maxBytes := e.cfg.MaxInputBytes
		if maxBytes <= 0 {
			maxBytes = config.DefaultConfig().Pipeline.MaxInputBytes
		}
		f, err := e.fetcher.IngestRemote(ctx, ws, input, "", maxBytes)
		if err != nil {
			ws.Close()
			return nil, err
		}
		path, cleanup = f.Path, ws.Close
	} else {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("input file not found: %s", input)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("input is a directory: %s", input)
		}
	}

	doc, err := openDocument(path, renderOptions{dpi: e.cfg.RenderDPI, maxSide: e.cfg.MaxImageSide})
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return nil, err
	}
	return &source{input: input, doc: doc, cleanup: cleanup}, nil
}
