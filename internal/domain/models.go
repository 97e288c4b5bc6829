package domain

import (
	"iter"
	"strings"
)

// SourceKind identifies how an input file reached the service
type SourceKind string

const (
	SourceUpload       SourceKind = "upload"
	SourceURLFetch     SourceKind = "url_fetch"
	SourceInlineBase64 SourceKind = "inline_base64"
)

// IngestedFile is an input persisted inside a request or job workspace.
// SizeBytes is always > 0 and never above the limit it was ingested under.
type IngestedFile struct {
	Path      string     `json:"path"`
	Name      string     `json:"name"`
	Ext       string     `json:"ext"`
	SizeBytes int64      `json:"size_bytes"`
	SHA256    string     `json:"sha256"`
	Source    SourceKind `json:"source"`
}

// Field names probed, in order, for a page's markdown text
var MarkdownTextKeys = []string{"markdown_texts", "text"}

// Markdown is the key/value rendering a page exposes for its markdown form
type Markdown map[string]any

// Text returns the first non-empty string found under MarkdownTextKeys.
func (m Markdown) Text() string {
	for _, key := range MarkdownTextKeys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// HasText reports whether the page carries any non-blank markdown text.
func (m Markdown) HasText() bool {
	return strings.TrimSpace(m.Text()) != ""
}

// PageResult is one page yielded by the extraction engine
type PageResult interface {
	Markdown() Markdown
}

// StructuredExporter is implemented by pages that can export themselves as a
// plain key/value structure.
type StructuredExporter interface {
	Export() (map[string]any, error)
}

// FieldLister is implemented by pages that expose their attributes.
// Keys beginning with "_" are private and never serialized.
type FieldLister interface {
	Fields() map[string]any
}

// RawResult is the lazy, ordered, single-use page sequence produced by one
// extraction. A non-nil error ends the sequence.
type RawResult = iter.Seq2[PageResult, error]

// NormalizedDocument is the merged view of a RawResult.
// PageCount always equals len(Pages) and Markdown is empty only when no page
// carried text.
type NormalizedDocument struct {
	Pages     []any  `json:"result"`
	Markdown  string `json:"markdown"`
	PageCount int    `json:"pages"`
}

// ExtractOptions tune a single extraction
type ExtractOptions struct {
	Backend       string `json:"backend"`
	Method        string `json:"method"`
	Lang          string `json:"lang"`
	FormulaEnable bool   `json:"formula_enable"`
	TableEnable   bool   `json:"table_enable"`
	StartPage     int    `json:"start_page"`
	EndPage       int    `json:"end_page"` // -1 means last page
}

// DefaultExtractOptions returns the options used by the HTTP surface
func DefaultExtractOptions() ExtractOptions {
	return ExtractOptions{
		Backend:       "vlm-http-client",
		Method:        "auto",
		Lang:          "ch",
		FormulaEnable: true,
		TableEnable:   true,
		StartPage:     0,
		EndPage:       -1,
	}
}

// ParseRequest asks the engine to parse InputPath and write artifacts under
// OutputDir, into ResultDir(OutputDir, Name, Backend, Method).
type ParseRequest struct {
	ExtractOptions
	InputPath       string
	OutputDir       string
	Name            string
	DumpMarkdown    bool
	DumpMiddleJSON  bool
	DumpContentList bool
}
