package engine

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Block types used in content lists and middle JSON
const (
	BlockText     = "text"
	BlockTable    = "table"
	BlockEquation = "equation"
	BlockCode     = "code"
	BlockList     = "list"
	BlockImage    = "image"
)

// Block is one layout element recovered from page markdown
type Block struct {
	Type      string   `json:"type"`
	Text      string   `json:"text,omitempty"`
	Level     int      `json:"text_level,omitempty"`
	HTML      string   `json:"table_body,omitempty"`
	Code      string   `json:"code_body,omitempty"`
	Language  string   `json:"code_language,omitempty"`
	ListItems []string `json:"list_items,omitempty"`
}

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table))

// splitBlocks parses page markdown into top-level blocks.
func splitBlocks(src string) []Block {
	source := []byte(src)
	doc := markdownParser.Parser().Parse(text.NewReader(source))

	var blocks []Block
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if b, ok := toBlock(n, source); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

func toBlock(n ast.Node, source []byte) (Block, bool) {
	switch node := n.(type) {
	case *ast.Heading:
		return Block{Type: BlockText, Text: plainText(node, source), Level: node.Level}, true

	case *ast.Paragraph:
		raw := strings.TrimSpace(rawLines(node, source))
		if isDisplayMath(raw) {
			return Block{Type: BlockEquation, Text: raw}, true
		}
		if raw == "" {
			return Block{}, false
		}
		return Block{Type: BlockText, Text: plainText(node, source)}, true

	case *ast.FencedCodeBlock:
		return Block{
			Type:     BlockCode,
			Code:     strings.TrimRight(rawLines(node, source), "\n"),
			Language: string(node.Language(source)),
		}, true

	case *ast.CodeBlock:
		return Block{Type: BlockCode, Code: strings.TrimRight(rawLines(node, source), "\n")}, true

	case *ast.List:
		var items []string
		for li := node.FirstChild(); li != nil; li = li.NextSibling() {
			items = append(items, plainText(li, source))
		}
		return Block{Type: BlockList, Text: strings.Join(items, "\n"), ListItems: items}, true

	case *ast.Blockquote:
		return Block{Type: BlockText, Text: plainText(node, source)}, true

	case *extast.Table:
		var buf bytes.Buffer
		if err := markdownParser.Renderer().Render(&buf, source, node); err != nil {
			return Block{}, false
		}
		body := strings.TrimSpace(buf.String())
		return Block{Type: BlockTable, HTML: body, Text: htmlText(body)}, true

	case *ast.HTMLBlock:
		raw := rawLines(node, source)
		if node.HasClosure() {
			raw += string(node.ClosureLine.Value(source))
		}
		return classifyHTML(raw)
	}
	return Block{}, false
}

// classifyHTML recognizes tables and images emitted by the model as raw HTML.
func classifyHTML(raw string) (Block, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Block{}, false
	}
	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return Block{Type: BlockText, Text: raw}, true
	}
	if findElement(root, atom.Table) != nil {
		return Block{Type: BlockTable, HTML: raw, Text: htmlText(raw)}, true
	}
	if img := findElement(root, atom.Img); img != nil {
		return Block{Type: BlockImage, Text: attr(img, "alt")}, true
	}
	t := htmlText(raw)
	if t == "" {
		return Block{}, false
	}
	return Block{Type: BlockText, Text: t}, true
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// htmlText returns the visible text of an HTML fragment, one cell or
// paragraph per space.
func htmlText(fragment string) string {
	root, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				parts = append(parts, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(parts, " ")
}

// rawLines returns the source text covered by a block node.
func rawLines(n ast.Node, source []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(source))
	}
	return sb.String()
}

// plainText collects the text of all inline descendants of n.
func plainText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		case *ast.CodeSpan:
			for cc := t.FirstChild(); cc != nil; cc = cc.NextSibling() {
				if tt, ok := cc.(*ast.Text); ok {
					sb.Write(tt.Segment.Value(source))
				}
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.TextBlock:
			if sb.Len() > 0 && c.PreviousSibling() != nil {
				sb.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

func isDisplayMath(raw string) bool {
	return len(raw) >= 4 && strings.HasPrefix(raw, "$$") && strings.HasSuffix(raw, "$$")
}

// stripMarkdown removes top-level tables or display equations from page
// markdown when those features are disabled, leaving the rest verbatim.
func stripMarkdown(src string, tables, formulas bool) string {
	if tables && formulas {
		return src
	}
	source := []byte(src)
	doc := markdownParser.Parser().Parse(text.NewReader(source))

	var out strings.Builder
	last := 0
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		b, ok := toBlock(n, source)
		if !ok || (tables || b.Type != BlockTable) && (formulas || b.Type != BlockEquation) {
			continue
		}
		start, end, ok := nodeSpan(n, source)
		if !ok || start < last {
			continue
		}
		out.Write(source[last:start])
		last = end
	}
	if last == 0 {
		return src
	}
	out.Write(source[last:])

	result := out.String()
	for strings.Contains(result, "\n\n\n") {
		result = strings.ReplaceAll(result, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(result)
}

// nodeSpan returns the whole source lines covered by n and its descendants.
func nodeSpan(n ast.Node, source []byte) (int, int, bool) {
	start, end := -1, -1
	cover := func(from, to int) {
		if start < 0 || from < start {
			start = from
		}
		if to > end {
			end = to
		}
	}
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := c.(*ast.Text); ok {
			cover(t.Segment.Start, t.Segment.Stop)
		}
		if c.Type() == ast.TypeBlock {
			if lines := c.Lines(); lines.Len() > 0 {
				cover(lines.At(0).Start, lines.At(lines.Len()-1).Stop)
			}
		}
		if h, ok := c.(*ast.HTMLBlock); ok && h.HasClosure() {
			cover(h.ClosureLine.Start, h.ClosureLine.Stop)
		}
		return ast.WalkContinue, nil
	})
	if start < 0 {
		return 0, 0, false
	}
	for start > 0 && source[start-1] != '\n' {
		start--
	}
	if end > 0 && source[end-1] == '\n' {
		return start, end, true
	}
	for end < len(source) && source[end] != '\n' {
		end++
	}
	if end < len(source) {
		end++
	}
	return start, end, true
}

// filterBlocks drops table or equation blocks when those features are disabled.
func filterBlocks(blocks []Block, tables, formulas bool) []Block {
	out := blocks[:0:0]
	for _, b := range blocks {
		if !tables && b.Type == BlockTable {
			continue
		}
		if !formulas && b.Type == BlockEquation {
			continue
		}
		out = append(out, b)
	}
	return out
}
