package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/QThans/MinerU-runpod/internal/domain"
)

type middleJSON struct {
	PDFInfo     []middlePage `json:"pdf_info"`
	Backend     string       `json:"_backend"`
	VersionName string       `json:"_version_name"`
}

type middlePage struct {
	PageIdx    int     `json:"page_idx"`
	PageSize   [2]int  `json:"page_size"`
	Method     string  `json:"parse_method"`
	ParaBlocks []Block `json:"para_blocks"`
}

type contentItem struct {
	Type       string   `json:"type"`
	Text       string   `json:"text,omitempty"`
	TextFormat string   `json:"text_format,omitempty"`
	TextLevel  int      `json:"text_level,omitempty"`
	TableBody  string   `json:"table_body,omitempty"`
	CodeBody   string   `json:"code_body,omitempty"`
	ListItems  []string `json:"list_items,omitempty"`
	PageIdx    int      `json:"page_idx"`
}

// backendFamily is the _backend value recorded in middle JSON.
func backendFamily(backend string) string {
	switch {
	case strings.HasPrefix(backend, "vlm"):
		return "vlm"
	case strings.HasPrefix(backend, "hybrid"):
		return "hybrid"
	default:
		return "pipeline"
	}
}

// writeArtifacts writes the files req asks for into the result directory.
func (e *Engine) writeArtifacts(req domain.ParseRequest, pages []*Page, markdown string) error {
	dir := domain.ResultDir(req.OutputDir, req.Name, req.Backend, req.Method)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create result directory: %w", err)
	}
	path := func(suffix string) string { return filepath.Join(dir, req.Name+suffix) }

	if req.DumpMarkdown {
		if err := os.WriteFile(path(domain.SuffixMarkdown), []byte(markdown), 0o644); err != nil {
			return fmt.Errorf("write markdown: %w", err)
		}
	}

	if req.DumpMiddleJSON {
		mid := middleJSON{
			PDFInfo:     make([]middlePage, 0, len(pages)),
			Backend:     backendFamily(req.Backend),
			VersionName: e.Version(),
		}
		for _, p := range pages {
			blocks := p.Blocks
			if blocks == nil {
				blocks = []Block{}
			}
			mid.PDFInfo = append(mid.PDFInfo, middlePage{
				PageIdx:    p.Index,
				PageSize:   [2]int{p.Width, p.Height},
				Method:     p.Method,
				ParaBlocks: blocks,
			})
		}
		if err := writeJSON(path(domain.SuffixMiddleJSON), mid); err != nil {
			return fmt.Errorf("write middle json: %w", err)
		}
	}

	if req.DumpContentList {
		if err := writeJSON(path(domain.SuffixContentList), contentList(pages)); err != nil {
			return fmt.Errorf("write content list: %w", err)
		}
	}

	e.logger.Debug().Str("dir", dir).Int("pages", len(pages)).Msg("Artifacts written")
	return nil
}

// contentList flattens page blocks into reading order.
func contentList(pages []*Page) []contentItem {
	items := []contentItem{}
	for _, p := range pages {
		for _, b := range p.Blocks {
			item := contentItem{Type: b.Type, PageIdx: p.Index}
			switch b.Type {
			case BlockTable:
				item.TableBody = b.HTML
			case BlockCode:
				item.CodeBody = b.Code
			case BlockList:
				item.ListItems = b.ListItems
			case BlockEquation:
				item.Text = b.Text
				item.TextFormat = "latex"
			default:
				item.Text = b.Text
				item.TextLevel = b.Level
			}
			items = append(items, item)
		}
	}
	return items
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
