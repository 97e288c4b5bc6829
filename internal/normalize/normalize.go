// Package normalize turns the engine's lazy page sequence into a single
// serializable document with merged markdown.
package normalize

import (
	"fmt"
	"strings"

	"github.com/QThans/MinerU-runpod/internal/domain"
)

// Merger is the engine's own page concatenation routine.
type Merger interface {
	ConcatenateMarkdown(pages []domain.Markdown) (string, error)
}

// Normalize consumes raw exactly once.
//
// Markdown is produced by merger when it succeeds with non-empty output, and
// otherwise by joining each page's text with a blank line. If the sequence
// fails part way, the pages seen so far are still returned together with a
// partial_result error.
func Normalize(raw domain.RawResult, merger Merger) (*domain.NormalizedDocument, error) {
	doc := &domain.NormalizedDocument{Pages: []any{}}
	var buffered []domain.Markdown
	var iterErr error

	for page, err := range raw {
		if err != nil {
			iterErr = domain.PartialResultError(doc.PageCount, err)
			break
		}
		doc.PageCount++
		doc.Pages = append(doc.Pages, Record(page))

		if page == nil {
			continue
		}
		if md := page.Markdown(); md.HasText() {
			buffered = append(buffered, md)
		}
	}

	doc.Markdown = Merge(buffered, merger)
	return doc, iterErr
}

// Merge concatenates buffered page markdown, preferring merger.
func Merge(pages []domain.Markdown, merger Merger) string {
	if len(pages) == 0 {
		return ""
	}
	if merger != nil {
		if out, err := merger.ConcatenateMarkdown(pages); err == nil && out != "" {
			return out
		}
	}
	return Join(pages)
}

// Join is the fallback merge: each page's text field, separated by a blank line.
func Join(pages []domain.Markdown) string {
	parts := make([]string, 0, len(pages))
	for _, md := range pages {
		if text := md.Text(); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Record projects one page into a JSON-friendly value: the page's own export,
// else its public fields, else its string rendering.
func Record(page domain.PageResult) any {
	if page == nil {
		return ""
	}
	if ex, ok := page.(domain.StructuredExporter); ok {
		if m, err := ex.Export(); err == nil && m != nil {
			return m
		}
	}
	if fl, ok := page.(domain.FieldLister); ok {
		if fields := fl.Fields(); fields != nil {
			public := make(map[string]any, len(fields))
			for k, v := range fields {
				if !strings.HasPrefix(k, "_") {
					public[k] = v
				}
			}
			return public
		}
	}
	return fmt.Sprint(page)
}
