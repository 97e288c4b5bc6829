package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/observability"
)

// modelServer answers every chat completion with reply as an SSE stream.
func modelServer(t *testing.T, reply string, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range strings.SplitAfter(reply, " ") {
			chunk, _ := json.Marshal(chatResponse{Choices: []chatChoice{{Delta: chatDelta{Content: part}}}})
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		done, _ := json.Marshal(chatResponse{Choices: []chatChoice{{FinishReason: "stop"}}})
		fmt.Fprintf(w, "data: %s\n\n", done)
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEngine(t *testing.T, srv *httptest.Server, opts ...Option) *Engine {
	t.Helper()
	cfg := config.PipelineConfig{
		ServerURL:  srv.URL,
		ModelName:  "test-model",
		CPUThreads: 2,
		MaxRetries: 0,
	}
	e, err := New(cfg, observability.Nop(), append([]Option{WithHTTPClient(srv.Client())}, opts...)...)
	require.NoError(t, err)
	return e
}

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		img.Set(x, 10, color.Black)
	}
	path := filepath.Join(dir, "input.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

type fakeRecognizer struct {
	text  string
	langs []string
}

func (f *fakeRecognizer) Name() string { return "fake" }

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte, langs []string) (string, error) {
	f.langs = langs
	return f.text, nil
}

func collect(t *testing.T, raw domain.RawResult) []*Page {
	t.Helper()
	var pages []*Page
	for p, err := range raw {
		require.NoError(t, err)
		pages = append(pages, p.(*Page))
	}
	return pages
}

func TestNewRequiresServerURL(t *testing.T) {
	_, err := New(config.PipelineConfig{}, observability.Nop())
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeConfig))
}

func TestVersion(t *testing.T) {
	srv := modelServer(t, "x", nil)
	e := newTestEngine(t, srv)
	assert.Equal(t, DefaultVersion, e.Version())

	e.cfg.Version = "2.0.0"
	assert.Equal(t, "2.0.0", e.Version())
}

func TestPredictImageWithVLM(t *testing.T) {
	var calls atomic.Int64
	srv := modelServer(t, "# Invoice\n\nTotal due: 42", &calls)
	e := newTestEngine(t, srv)
	input := writePNG(t, t.TempDir())

	opts := domain.DefaultExtractOptions()
	raw, err := e.Predict(t.Context(), input, opts)
	require.NoError(t, err)

	pages := collect(t, raw)
	require.Len(t, pages, 1)
	p := pages[0]
	assert.Equal(t, MethodVLM, p.Method)
	assert.Equal(t, "# Invoice\n\nTotal due: 42", p.Markdown()["markdown_texts"])
	assert.Equal(t, 40, p.Width)
	assert.Equal(t, 20, p.Height)
	require.Len(t, p.Blocks, 2)
	assert.Equal(t, 1, p.Blocks[0].Level)
	assert.Equal(t, int64(1), calls.Load())

	exported, err := p.Export()
	require.NoError(t, err)
	assert.Equal(t, input, exported["input_path"])
	assert.Equal(t, "test-model", exported["model_settings"].(map[string]any)["model_name"])
}

func TestPredictResultIsSingleUse(t *testing.T) {
	srv := modelServer(t, "text", nil)
	e := newTestEngine(t, srv)
	input := writePNG(t, t.TempDir())

	raw, err := e.Predict(t.Context(), input, domain.DefaultExtractOptions())
	require.NoError(t, err)
	collect(t, raw)

	var second error
	for _, err := range raw {
		second = err
	}
	assert.ErrorIs(t, second, errResultConsumed)
}

func TestPredictMissingInput(t *testing.T) {
	srv := modelServer(t, "text", nil)
	e := newTestEngine(t, srv)

	_, err := e.Predict(t.Context(), filepath.Join(t.TempDir(), "missing.pdf"), domain.DefaultExtractOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestPredictModelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad image", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)
	e := newTestEngine(t, srv)
	input := writePNG(t, t.TempDir())

	raw, err := e.Predict(t.Context(), input, domain.DefaultExtractOptions())
	require.NoError(t, err)

	var iterErr error
	for _, err := range raw {
		if err != nil {
			iterErr = err
		}
	}
	require.Error(t, iterErr)
	assert.Contains(t, iterErr.Error(), "status 400")
}

func TestHybridFallsBackToVLMWithoutTextLayer(t *testing.T) {
	var calls atomic.Int64
	srv := modelServer(t, "from model", &calls)
	e := newTestEngine(t, srv)
	input := writePNG(t, t.TempDir())

	opts := domain.DefaultExtractOptions()
	opts.Backend = "hybrid-auto-engine"
	raw, err := e.Predict(t.Context(), input, opts)
	require.NoError(t, err)

	pages := collect(t, raw)
	require.Len(t, pages, 1)
	assert.Equal(t, MethodVLM, pages[0].Method)
	assert.Equal(t, "from model", pages[0].Text)
	assert.Equal(t, int64(1), calls.Load())
}

func TestPipelineBackendUsesRecognizer(t *testing.T) {
	var calls atomic.Int64
	srv := modelServer(t, "unused", &calls)
	rec := &fakeRecognizer{text: "first line\nsecond line\n\nnext paragraph"}
	e := newTestEngine(t, srv, WithRecognizer(rec))
	input := writePNG(t, t.TempDir())

	opts := domain.DefaultExtractOptions()
	opts.Backend = "pipeline"
	opts.Lang = "en"
	raw, err := e.Predict(t.Context(), input, opts)
	require.NoError(t, err)

	pages := collect(t, raw)
	require.Len(t, pages, 1)
	assert.Equal(t, MethodOCR, pages[0].Method)
	assert.Equal(t, "first line second line\n\nnext paragraph", pages[0].Text)
	assert.Equal(t, []string{"eng"}, rec.langs)
	assert.Zero(t, calls.Load())
}

func TestPipelineOCRWithoutRecognizer(t *testing.T) {
	srv := modelServer(t, "unused", nil)
	e := newTestEngine(t, srv)
	e.recognizer = nil
	input := writePNG(t, t.TempDir())

	opts := domain.DefaultExtractOptions()
	opts.Backend = "pipeline"
	opts.Method = "ocr"
	raw, err := e.Predict(t.Context(), input, opts)
	require.NoError(t, err)

	var iterErr error
	for _, err := range raw {
		if err != nil {
			iterErr = err
		}
	}
	assert.ErrorIs(t, iterErr, ErrNoRecognizer)
}

func TestParseWritesArtifacts(t *testing.T) {
	srv := modelServer(t, "# Title\n\nSome body text.\n\n$$x^2$$", nil)
	e := newTestEngine(t, srv)
	dir := t.TempDir()
	input := writePNG(t, dir)
	out := filepath.Join(dir, "output")

	req := domain.ParseRequest{
		ExtractOptions:  domain.DefaultExtractOptions(),
		InputPath:       input,
		OutputDir:       out,
		Name:            "input",
		DumpMarkdown:    true,
		DumpMiddleJSON:  true,
		DumpContentList: true,
	}
	require.NoError(t, e.Parse(t.Context(), req))

	path := func(suffix string) string {
		return domain.ArtifactPath(out, "input", req.Backend, req.Method, suffix)
	}

	md, err := os.ReadFile(path(domain.SuffixMarkdown))
	require.NoError(t, err)
	assert.Equal(t, "# Title\n\nSome body text.\n\n$$x^2$$", string(md))

	var mid map[string]any
	data, err := os.ReadFile(path(domain.SuffixMiddleJSON))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &mid))
	assert.Equal(t, "vlm", mid["_backend"])
	assert.Equal(t, DefaultVersion, mid["_version_name"])
	assert.Len(t, mid["pdf_info"], 1)

	var items []contentItem
	data, err = os.ReadFile(path(domain.SuffixContentList))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 3)
	assert.Equal(t, contentItem{Type: BlockText, Text: "Title", TextLevel: 1}, items[0])
	assert.Equal(t, "Some body text.", items[1].Text)
	assert.Equal(t, BlockEquation, items[2].Type)
	assert.Equal(t, "latex", items[2].TextFormat)
}

func TestParseSkipsUnrequestedArtifacts(t *testing.T) {
	srv := modelServer(t, "body", nil)
	e := newTestEngine(t, srv)
	dir := t.TempDir()
	input := writePNG(t, dir)

	req := domain.ParseRequest{
		ExtractOptions: domain.DefaultExtractOptions(),
		InputPath:      input,
		OutputDir:      dir,
		Name:           "input",
		DumpMarkdown:   true,
	}
	require.NoError(t, e.Parse(t.Context(), req))

	_, err := os.Stat(domain.ArtifactPath(dir, "input", req.Backend, req.Method, domain.SuffixMarkdown))
	assert.NoError(t, err)
	_, err = os.Stat(domain.ArtifactPath(dir, "input", req.Backend, req.Method, domain.SuffixContentList))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestParseFiltersDisabledFeatures(t *testing.T) {
	srv := modelServer(t, "Intro\n\n<table><tr><td>a</td></tr></table>\n\n$$y$$", nil)
	e := newTestEngine(t, srv)
	dir := t.TempDir()
	input := writePNG(t, dir)

	opts := domain.DefaultExtractOptions()
	opts.TableEnable = false
	opts.FormulaEnable = false
	req := domain.ParseRequest{
		ExtractOptions:  opts,
		InputPath:       input,
		OutputDir:       dir,
		Name:            "input",
		DumpContentList: true,
		DumpMarkdown:    true,
	}
	require.NoError(t, e.Parse(t.Context(), req))

	md, err := os.ReadFile(domain.ArtifactPath(dir, "input", req.Backend, req.Method, domain.SuffixMarkdown))
	require.NoError(t, err)
	assert.Equal(t, "Intro", string(md))

	var items []contentItem
	data, err := os.ReadFile(domain.ArtifactPath(dir, "input", req.Backend, req.Method, domain.SuffixContentList))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Intro", items[0].Text)
}

func TestParseRequiresName(t *testing.T) {
	srv := modelServer(t, "body", nil)
	e := newTestEngine(t, srv)
	err := e.Parse(t.Context(), domain.ParseRequest{InputPath: "x.pdf"})
	assert.Error(t, err)
}

func TestPlanFor(t *testing.T) {
	tests := []struct {
		backend, method   string
		primary, fallback string
	}{
		{"vlm-http-client", "auto", MethodVLM, ""},
		{"vlm-auto-engine", "txt", MethodVLM, ""},
		{"hybrid-auto-engine", "auto", MethodTextLayer, MethodVLM},
		{"hybrid-http-client", "ocr", MethodVLM, ""},
		{"pipeline", "auto", MethodTextLayer, MethodOCR},
		{"pipeline", "txt", MethodTextLayer, MethodOCR},
		{"pipeline", "ocr", MethodOCR, ""},
	}
	for _, tt := range tests {
		t.Run(tt.backend+"/"+tt.method, func(t *testing.T) {
			primary, fallback := planFor(tt.backend, tt.method)
			assert.Equal(t, tt.primary, primary)
			assert.Equal(t, tt.fallback, fallback)
		})
	}
}

func TestPageRange(t *testing.T) {
	tests := []struct {
		name       string
		pages      int
		start, end int
		want       []int
		wantErr    bool
	}{
		{name: "all pages", pages: 3, start: 0, end: -1, want: []int{0, 1, 2}},
		{name: "end past last page", pages: 3, start: 1, end: 99999, want: []int{1, 2}},
		{name: "single page", pages: 3, start: 2, end: 2, want: []int{2}},
		{name: "negative start", pages: 2, start: -5, end: -1, want: []int{0, 1}},
		{name: "start beyond end", pages: 3, start: 5, end: -1, wantErr: true},
		{name: "empty document", pages: 0, start: 0, end: -1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pageRange(tt.pages, tt.start, tt.end)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBackendFamily(t *testing.T) {
	assert.Equal(t, "vlm", backendFamily("vlm-http-client"))
	assert.Equal(t, "hybrid", backendFamily("hybrid-auto-engine"))
	assert.Equal(t, "pipeline", backendFamily("pipeline"))
}
