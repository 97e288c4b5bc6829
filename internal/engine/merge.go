package engine

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/QThans/MinerU-runpod/internal/domain"
)

// ConcatenateMarkdown merges per-page markdown into one document. Every page
// must carry a markdown_texts string.
//
// A page's first line is dropped when it repeats the previous page's last
// line, and a paragraph cut by the page break is rejoined.
func (e *Engine) ConcatenateMarkdown(pages []domain.Markdown) (string, error) {
	texts := make([]string, 0, len(pages))
	for i, md := range pages {
		s, ok := md["markdown_texts"].(string)
		if !ok {
			return "", fmt.Errorf("page %d has no markdown_texts", i)
		}
		texts = append(texts, s)
	}
	return concatenatePages(texts), nil
}

func concatenatePages(pages []string) string {
	var merged string
	for _, page := range pages {
		page = strings.TrimSpace(page)
		if page == "" {
			continue
		}
		if merged == "" {
			merged = page
			continue
		}

		prevLast := lastLine(merged)
		if first := firstLine(page); first != "" && first == prevLast {
			page = strings.TrimSpace(strings.TrimPrefix(page, first))
			if page == "" {
				continue
			}
		}

		if continuesParagraph(prevLast, firstLine(page)) {
			merged = joinBroken(merged, page)
		} else {
			merged += "\n\n" + page
		}
	}
	return merged
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// structural reports whether a line opens or belongs to a non-paragraph block.
func structural(line string) bool {
	if line == "" {
		return true
	}
	for _, p := range []string{"#", "|", ">", "- ", "* ", "+ ", "$$", "```", "<", "!["} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	// Ordered list item, e.g. "3. text".
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	return i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')')
}

func continuesParagraph(prev, next string) bool {
	if structural(prev) || structural(next) {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(prev)
	if strings.ContainsRune(".!?:;。！？：；”\"')）】", last) {
		return false
	}
	first, _ := utf8.DecodeRuneInString(next)
	return unicode.IsLower(first) || unicode.Is(unicode.Han, first)
}

func joinBroken(merged, page string) string {
	last, _ := utf8.DecodeLastRuneInString(merged)
	first, _ := utf8.DecodeRuneInString(page)

	switch {
	case last == '-' && unicode.IsLower(first):
		return strings.TrimSuffix(merged, "-") + page
	case unicode.Is(unicode.Han, last) || unicode.Is(unicode.Han, first):
		return merged + page
	default:
		return merged + " " + page
	}
}
