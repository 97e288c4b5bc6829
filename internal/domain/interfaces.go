package domain

import "context"

// Engine is the heavyweight extraction pipeline. Calls block until the
// underlying model finishes; there is no way to interrupt a running call.
type Engine interface {
	// Predict extracts input, a local path or an http(s) URL, into a lazy page sequence
	Predict(ctx context.Context, input string, opts ExtractOptions) (RawResult, error)

	// Parse runs a full document parse and writes the requested artifacts
	Parse(ctx context.Context, req ParseRequest) error

	// Version reports the engine version
	Version() string
}

// MarkdownMerger is the engine's own page-concatenation routine
type MarkdownMerger interface {
	ConcatenateMarkdown(pages []Markdown) (string, error)
}
