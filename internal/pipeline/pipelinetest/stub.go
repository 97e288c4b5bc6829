// Package pipelinetest provides scripted engines for tests.
package pipelinetest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/pipeline"
)

// Page is a page with only a markdown view. Its structured form falls back
// to its string rendering.
type Page struct {
	MD    domain.Markdown
	Label string
}

func (p *Page) Markdown() domain.Markdown { return p.MD }

func (p *Page) String() string { return p.Label }

// ExportPage can export itself as a map.
type ExportPage struct {
	Page
	Data map[string]any
	Err  error
}

func (p *ExportPage) Export() (map[string]any, error) { return p.Data, p.Err }

// FieldPage lists its attributes.
type FieldPage struct {
	Page
	Attrs map[string]any
}

func (p *FieldPage) Fields() map[string]any { return p.Attrs }

// TextPage returns an exportable page whose markdown text is text.
func TextPage(index int, text string) *ExportPage {
	return &ExportPage{
		Page: Page{MD: domain.Markdown{"markdown_texts": text}, Label: fmt.Sprintf("page %d", index)},
		Data: map[string]any{"page_index": index, "text": text},
	}
}

// Engine is a scripted domain.Engine.
type Engine struct {
	Pages      []domain.PageResult
	FailAfter  int // yield an error after this many pages; negative disables
	FailErr    error
	PredictErr error
	ParseErr   error
	Delay      time.Duration

	// Artifacts maps an artifact suffix to the content Parse writes for it.
	Artifacts   map[string]string
	VersionName string

	predicts atomic.Int64
	mu       sync.Mutex
	parses   []domain.ParseRequest
}

// NewEngine returns an engine that yields pages and never fails.
func NewEngine(pages ...domain.PageResult) *Engine {
	return &Engine{Pages: pages, FailAfter: -1, VersionName: "test-1.0"}
}

func (e *Engine) Predict(ctx context.Context, input string, opts domain.ExtractOptions) (domain.RawResult, error) {
	e.predicts.Add(1)
	if e.Delay > 0 {
		time.Sleep(e.Delay)
	}
	if e.PredictErr != nil {
		return nil, e.PredictErr
	}
	var used atomic.Bool
	return func(yield func(domain.PageResult, error) bool) {
		if used.Swap(true) {
			yield(nil, errors.New("result already consumed"))
			return
		}
		for i, p := range e.Pages {
			if e.FailAfter >= 0 && i == e.FailAfter {
				yield(nil, e.failErr())
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if e.FailAfter >= 0 && e.FailAfter >= len(e.Pages) {
			yield(nil, e.failErr())
		}
	}, nil
}

func (e *Engine) failErr() error {
	if e.FailErr != nil {
		return e.FailErr
	}
	return errors.New("page decode failed")
}

// Parse records req and writes the scripted artifacts for the requested dumps.
func (e *Engine) Parse(ctx context.Context, req domain.ParseRequest) error {
	e.mu.Lock()
	e.parses = append(e.parses, req)
	e.mu.Unlock()

	if e.Delay > 0 {
		time.Sleep(e.Delay)
	}
	if e.ParseErr != nil {
		return e.ParseErr
	}

	dir := domain.ResultDir(req.OutputDir, req.Name, req.Backend, req.Method)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	wanted := map[string]bool{
		domain.SuffixMarkdown:    req.DumpMarkdown,
		domain.SuffixMiddleJSON:  req.DumpMiddleJSON,
		domain.SuffixContentList: req.DumpContentList,
	}
	for suffix, content := range e.Artifacts {
		if !wanted[suffix] {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, req.Name+suffix), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) Version() string { return e.VersionName }

// PredictCalls returns how many times Predict ran.
func (e *Engine) PredictCalls() int64 { return e.predicts.Load() }

// ParseRequests returns every request Parse received.
func (e *Engine) ParseRequests() []domain.ParseRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.ParseRequest(nil), e.parses...)
}

// MergingEngine adds a page concatenation routine to Engine.
type MergingEngine struct {
	*Engine
	Merge func(pages []domain.Markdown) (string, error)
}

func (e *MergingEngine) ConcatenateMarkdown(pages []domain.Markdown) (string, error) {
	return e.Merge(pages)
}

// Factory returns a pipeline.Factory that hands out engine and counts calls.
func Factory(engine domain.Engine, calls *atomic.Int64) pipeline.Factory {
	return func(ctx context.Context, cfg config.PipelineConfig) (domain.Engine, error) {
		if calls != nil {
			calls.Add(1)
		}
		return engine, nil
	}
}
