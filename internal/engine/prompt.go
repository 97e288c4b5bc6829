package engine

import (
	"strings"

	"github.com/QThans/MinerU-runpod/internal/domain"
)

var langNames = map[string]string{
	"ch":          "Simplified Chinese and English",
	"ch_server":   "Simplified Chinese and English",
	"chinese_cht": "Traditional Chinese",
	"en":          "English",
	"korean":      "Korean",
	"japan":       "Japanese",
	"latin":       "a Latin-script language",
	"arabic":      "Arabic",
	"cyrillic":    "a Cyrillic-script language",
	"east_slavic": "an East Slavic language",
	"devanagari":  "a Devanagari-script language",
	"ta":          "Tamil",
	"te":          "Telugu",
	"ka":          "Kannada",
}

// buildPrompt creates the page transcription prompt
func buildPrompt(opts domain.ExtractOptions) string {
	var b strings.Builder
	b.WriteString("Transcribe this document page into Markdown.\n")
	b.WriteString("- Keep the natural reading order, including multi-column layouts.\n")
	b.WriteString("- Use # headings for titles and section headings, and Markdown lists for lists.\n")
	if opts.TableEnable {
		b.WriteString("- Write tables as HTML <table> elements.\n")
	} else {
		b.WriteString("- Write table contents as plain text lines.\n")
	}
	if opts.FormulaEnable {
		b.WriteString("- Write formulas in LaTeX. Put display formulas on their own lines between $$ delimiters and inline formulas between $ delimiters.\n")
	} else {
		b.WriteString("- Write formulas as plain text.\n")
	}
	if name, ok := langNames[opts.Lang]; ok {
		b.WriteString("- The page is written in " + name + ".\n")
	}
	b.WriteString("- Skip page numbers, running headers and footers.\n")
	b.WriteString("Output only the page content without commentary or code fences around it.")
	return b.String()
}
