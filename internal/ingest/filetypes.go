package ingest

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/QThans/MinerU-runpod/internal/domain"
)

// ExtensionSet is an ordered allow-list of lowercase extensions without dots.
type ExtensionSet []string

var (
	// UploadExtensions are accepted by the HTTP upload route
	UploadExtensions = ExtensionSet{"pdf", "jpg", "jpeg", "png", "bmp"}

	// JobExtensions are accepted by serverless jobs
	JobExtensions = ExtensionSet{"pdf", "png", "jpeg", "jp2", "webp", "gif", "bmp", "jpg"}

	// ImageExtensions are the non-PDF inputs the engine can rasterize
	ImageExtensions = ExtensionSet{"png", "jpeg", "jpg", "jp2", "webp", "gif", "bmp"}
)

// Contains reports whether ext, in any case and with or without a dot, is allowed.
func (s ExtensionSet) Contains(ext string) bool {
	ext = NormalizeExt(ext)
	for _, e := range s {
		if e == ext {
			return true
		}
	}
	return false
}

// Dotted renders the set as ".pdf, .jpg, ...".
func (s ExtensionSet) Dotted() string {
	parts := make([]string, len(s))
	for i, e := range s {
		parts[i] = "." + e
	}
	return strings.Join(parts, ", ")
}

// CheckUpload rejects filenames the upload route cannot accept. It runs
// before any bytes are read.
func CheckUpload(filename string) (string, error) {
	ext := ExtOf(filename)
	if !UploadExtensions.Contains(ext) {
		shown := "none"
		if ext != "" {
			shown = "." + ext
		}
		return "", domain.UnsupportedFormatError(
			fmt.Sprintf("Unsupported file format: %s. Allowed: %s", shown, UploadExtensions.Dotted()))
	}
	return ext, nil
}

// NormalizeExt lowercases ext and strips a leading dot.
func NormalizeExt(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}

// ExtOf returns the normalized extension of a filename or path.
func ExtOf(name string) string {
	return NormalizeExt(filepath.Ext(name))
}

// ExtOfURLPath returns the normalized extension of a URL path component.
func ExtOfURLPath(p string) string {
	return NormalizeExt(path.Ext(p))
}

// IsPDF reports whether ext names a PDF.
func IsPDF(ext string) bool {
	return NormalizeExt(ext) == "pdf"
}
