package engine

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/QThans/MinerU-runpod/internal/domain"
)

// Page recognition methods
const (
	MethodVLM       = "vlm"
	MethodTextLayer = "txt"
	MethodOCR       = "ocr"
)

// Page is one recognized page
type Page struct {
	Index     int
	InputPath string
	Width     int
	Height    int
	Method    string
	Text      string
	Blocks    []Block
	settings  map[string]any
}

// Markdown implements domain.PageResult.
func (p *Page) Markdown() domain.Markdown {
	return domain.Markdown{
		"markdown_texts": p.Text,
		"page_index":     p.Index,
		"input_path":     p.InputPath,
	}
}

// Export implements domain.StructuredExporter.
func (p *Page) Export() (map[string]any, error) {
	blocks := make([]map[string]any, 0, len(p.Blocks))
	for i, b := range p.Blocks {
		m := map[string]any{"index": i, "block_label": b.Type, "block_content": blockContent(b)}
		if b.Level > 0 {
			m["text_level"] = b.Level
		}
		blocks = append(blocks, m)
	}
	return map[string]any{
		"input_path":       p.InputPath,
		"page_index":       p.Index,
		"width":            p.Width,
		"height":           p.Height,
		"method":           p.Method,
		"markdown":         map[string]any{"markdown_texts": p.Text},
		"parsing_res_list": blocks,
		"model_settings":   p.settings,
	}, nil
}

func blockContent(b Block) string {
	switch b.Type {
	case BlockTable:
		return b.HTML
	case BlockCode:
		return b.Code
	default:
		return b.Text
	}
}

// stripFences removes a code fence the model wrapped its whole answer in.
func stripFences(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") || len(t) < 6 {
		return t
	}
	nl := strings.IndexByte(t, '\n')
	if nl < 0 {
		return t
	}
	lang := strings.TrimSpace(t[3:nl])
	if lang != "" && lang != "markdown" && lang != "md" {
		return t
	}
	return strings.TrimSpace(t[nl+1 : len(t)-3])
}

// textToMarkdown turns plain text from a text layer or OCR into markdown
// paragraphs, unwrapping hard line breaks inside a paragraph.
func textToMarkdown(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var paras []string
	for _, chunk := range strings.Split(s, "\n\n") {
		var para string
		for _, line := range strings.Split(chunk, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if para == "" {
				para = line
				continue
			}
			last, _ := utf8.DecodeLastRuneInString(para)
			first, _ := utf8.DecodeRuneInString(line)
			if unicode.Is(unicode.Han, last) && unicode.Is(unicode.Han, first) {
				para += line
			} else {
				para += " " + line
			}
		}
		if para != "" {
			paras = append(paras, para)
		}
	}
	return strings.Join(paras, "\n\n")
}
