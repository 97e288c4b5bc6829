package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/observability"
)

// ErrNoMerger is returned by ConcatenateMarkdown when the engine has no
// page concatenation routine of its own.
var ErrNoMerger = errors.New("engine does not support markdown concatenation")

// Handle is the shared, read-only view of the constructed engine. Its calls
// block for as long as the engine needs and are not interruptible.
type Handle struct {
	engine domain.Engine
	logger *observability.Logger
}

// Extract runs the engine on a local path or http(s) URL. The returned
// result may be ranged over again; later passes replay the recorded pages.
func (h *Handle) Extract(ctx context.Context, input string, opts domain.ExtractOptions) (domain.RawResult, error) {
	start := time.Now()
	raw, err := h.engine.Predict(ctx, input, opts)
	if err != nil {
		h.logger.WithContext(ctx).Error().Err(err).Msg("Extraction failed")
		return nil, domain.PipelineError(err)
	}
	h.logger.WithContext(ctx).Debug().Dur("elapsed", time.Since(start)).Msg("Extraction started")
	return wrapResult(raw), nil
}

// Parse runs a full parse that writes artifacts to disk.
func (h *Handle) Parse(ctx context.Context, req domain.ParseRequest) error {
	start := time.Now()
	if err := h.engine.Parse(ctx, req); err != nil {
		return domain.PipelineError(err)
	}
	h.logger.WithContext(ctx).Info().
		Str("backend", req.Backend).
		Str("method", req.Method).
		Dur("elapsed", time.Since(start)).
		Msg("Parse finished")
	return nil
}

// ConcatenateMarkdown delegates to the engine's own page merge.
func (h *Handle) ConcatenateMarkdown(pages []domain.Markdown) (string, error) {
	m, ok := h.engine.(domain.MarkdownMerger)
	if !ok {
		return "", ErrNoMerger
	}
	return m.ConcatenateMarkdown(pages)
}

// Version reports the engine version.
func (h *Handle) Version() string {
	return h.engine.Version()
}

// ErrResultAbandoned is yielded when a result is iterated again after an
// earlier iteration stopped before the engine finished.
var ErrResultAbandoned = errors.New("result iteration was abandoned before the end")

// replayResult records every page the engine yields so the result can be
// iterated more than once. Iterations are serialized.
type replayResult struct {
	mu       sync.Mutex
	src      domain.RawResult
	started  bool
	finished bool
	pages    []domain.PageResult
	err      error
}

// wrapResult converts mid-iteration engine errors into pipeline errors and
// makes the engine's single-use sequence replayable.
func wrapResult(raw domain.RawResult) domain.RawResult {
	r := &replayResult{src: raw}
	return r.iterate
}

func (r *replayResult) iterate(yield func(domain.PageResult, error) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		r.replay(yield)
		return
	}
	r.started = true

	for page, err := range r.src {
		if err != nil {
			r.err = domain.PipelineError(err)
			r.finished = true
			yield(nil, r.err)
			return
		}
		r.pages = append(r.pages, page)
		if !yield(page, nil) {
			return
		}
	}
	r.finished = true
}

func (r *replayResult) replay(yield func(domain.PageResult, error) bool) {
	for _, page := range r.pages {
		if !yield(page, nil) {
			return
		}
	}
	switch {
	case r.err != nil:
		yield(nil, r.err)
	case !r.finished:
		yield(nil, domain.PipelineError(ErrResultAbandoned))
	}
}
