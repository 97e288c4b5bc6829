package domain

import (
	"path/filepath"
	"strings"
)

// Artifact file suffixes, appended to the document name
const (
	SuffixMarkdown    = ".md"
	SuffixMiddleJSON  = "_middle.json"
	SuffixContentList = "_content_list.json"
)

// ResultDir returns the directory the engine writes artifacts into for a
// given backend and method.
func ResultDir(outputDir, name, backend, method string) string {
	switch {
	case strings.HasPrefix(backend, "hybrid"):
		return filepath.Join(outputDir, name, "hybrid_"+method)
	case strings.HasPrefix(backend, "vlm"):
		return filepath.Join(outputDir, name, "vlm")
	default:
		return filepath.Join(outputDir, name, method)
	}
}

// ArtifactPath returns the full path of one artifact.
func ArtifactPath(outputDir, name, backend, method, suffix string) string {
	return filepath.Join(ResultDir(outputDir, name, backend, method), name+suffix)
}
