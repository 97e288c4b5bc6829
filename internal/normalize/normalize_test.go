package normalize

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/observability"
	"github.com/QThans/MinerU-runpod/internal/pipeline"
	"github.com/QThans/MinerU-runpod/internal/pipeline/pipelinetest"
)

type mergerFunc func([]domain.Markdown) (string, error)

func (f mergerFunc) ConcatenateMarkdown(pages []domain.Markdown) (string, error) { return f(pages) }

func seq(pages ...domain.PageResult) domain.RawResult {
	return func(yield func(domain.PageResult, error) bool) {
		for _, p := range pages {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func TestNormalizeEmptySequence(t *testing.T) {
	doc, err := Normalize(seq(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, doc.PageCount)
	assert.Empty(t, doc.Pages)
	assert.NotNil(t, doc.Pages)
	assert.Equal(t, "", doc.Markdown)
}

func TestNormalizePrimaryMerge(t *testing.T) {
	var got []domain.Markdown
	merger := mergerFunc(func(pages []domain.Markdown) (string, error) {
		got = pages
		return "A+B", nil
	})

	doc, err := Normalize(seq(pipelinetest.TextPage(0, "A"), pipelinetest.TextPage(1, "B")), merger)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.PageCount)
	assert.Len(t, doc.Pages, 2)
	assert.Equal(t, "A+B", doc.Markdown)
	assert.Len(t, got, 2)
}

func TestNormalizeFallbackMerge(t *testing.T) {
	pages := seq(pipelinetest.TextPage(0, "A"), pipelinetest.TextPage(1, "B"))

	tests := []struct {
		name   string
		merger Merger
	}{
		{"no merger", nil},
		{"merger fails", mergerFunc(func([]domain.Markdown) (string, error) { return "", errors.New("boom") })},
		{"merger empty", mergerFunc(func([]domain.Markdown) (string, error) { return "", nil })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Normalize(pages, tt.merger)
			require.NoError(t, err)
			assert.Equal(t, "A\n\nB", doc.Markdown)
		})
	}
}

func TestNormalizeSkipsPagesWithoutText(t *testing.T) {
	called := false
	merger := mergerFunc(func([]domain.Markdown) (string, error) {
		called = true
		return "x", nil
	})

	blank := &pipelinetest.Page{MD: domain.Markdown{"markdown_texts": "  "}, Label: "blank"}
	none := &pipelinetest.Page{Label: "none"}
	doc, err := Normalize(seq(blank, none), merger)
	require.NoError(t, err)
	assert.Equal(t, 2, doc.PageCount)
	assert.Equal(t, "", doc.Markdown)
	assert.False(t, called)
}

func TestJoinProbesTextFields(t *testing.T) {
	out := Join([]domain.Markdown{
		{"markdown_texts": "first"},
		{"text": "second"},
		{"other": "ignored"},
	})
	assert.Equal(t, "first\n\nsecond", out)
}

func TestRecordProjection(t *testing.T) {
	exported := pipelinetest.TextPage(3, "hello")
	assert.Equal(t, map[string]any{"page_index": 3, "text": "hello"}, Record(exported))

	failing := &pipelinetest.ExportPage{Page: pipelinetest.Page{Label: "fallback"}, Err: errors.New("no")}
	assert.Equal(t, "fallback", Record(failing))

	fields := &pipelinetest.FieldPage{
		Page:  pipelinetest.Page{Label: "fields"},
		Attrs: map[string]any{"width": 10, "_cache": "secret", "text": "t"},
	}
	assert.Equal(t, map[string]any{"width": 10, "text": "t"}, Record(fields))

	plain := &pipelinetest.Page{Label: "plain page"}
	assert.Equal(t, "plain page", Record(plain))
}

func TestNormalizePartialResult(t *testing.T) {
	engine := pipelinetest.NewEngine(
		pipelinetest.TextPage(0, "A"),
		pipelinetest.TextPage(1, "B"),
		pipelinetest.TextPage(2, "C"),
	)
	engine.FailAfter = 2
	raw, err := engine.Predict(t.Context(), "doc.pdf", domain.DefaultExtractOptions())
	require.NoError(t, err)

	doc, err := Normalize(raw, nil)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypePartialResult))
	assert.Equal(t, 2, doc.PageCount)
	assert.Len(t, doc.Pages, 2)
	assert.Equal(t, "A\n\nB", doc.Markdown)
}

func extractWith(t *testing.T, engine domain.Engine) (*pipeline.Handle, domain.RawResult) {
	t.Helper()
	p := pipeline.NewProvider(config.PipelineConfig{}, pipelinetest.Factory(engine, nil), observability.Nop())
	h, err := p.Get(context.Background())
	require.NoError(t, err)
	raw, err := h.Extract(context.Background(), "doc.pdf", domain.DefaultExtractOptions())
	require.NoError(t, err)
	return h, raw
}

func TestNormalizeSameResultTwice(t *testing.T) {
	h, raw := extractWith(t, pipelinetest.NewEngine(pipelinetest.TextPage(0, "A"), pipelinetest.TextPage(1, "B")))

	first, err := Normalize(raw, h)
	require.NoError(t, err)
	second, err := Normalize(raw, h)
	require.NoError(t, err)

	assert.Equal(t, 2, first.PageCount)
	assert.Equal(t, "A\n\nB", first.Markdown)
	assert.Equal(t, first.PageCount, second.PageCount)
	assert.Equal(t, first.Markdown, second.Markdown)
	assert.Equal(t, first.Pages, second.Pages)
}

func TestNormalizeSamePartialResultTwice(t *testing.T) {
	engine := pipelinetest.NewEngine(pipelinetest.TextPage(0, "A"), pipelinetest.TextPage(1, "B"))
	engine.FailAfter = 1
	h, raw := extractWith(t, engine)

	first, err := Normalize(raw, h)
	require.Error(t, err)
	second, err2 := Normalize(raw, h)
	require.Error(t, err2)

	assert.True(t, domain.IsType(err2, domain.ErrorTypePartialResult))
	assert.Equal(t, 1, first.PageCount)
	assert.Equal(t, first.PageCount, second.PageCount)
	assert.Equal(t, first.Markdown, second.Markdown)
	assert.Equal(t, domain.UserMessage(err), domain.UserMessage(err2))
}
