package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResultDir(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		method  string
		want    string
	}{
		{"hybrid auto", "hybrid-auto-engine", "auto", filepath.Join("out", "input", "hybrid_auto")},
		{"hybrid client ocr", "hybrid-http-client", "ocr", filepath.Join("out", "input", "hybrid_ocr")},
		{"vlm ignores method", "vlm-auto-engine", "txt", filepath.Join("out", "input", "vlm")},
		{"pipeline uses method", "pipeline", "txt", filepath.Join("out", "input", "txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResultDir("out", "input", tt.backend, tt.method))
		})
	}

	assert.Equal(t,
		filepath.Join("out", "input", "vlm", "input_content_list.json"),
		ArtifactPath("out", "input", "vlm-http-client", "auto", SuffixContentList))
}

func TestMarkdownText(t *testing.T) {
	assert.Equal(t, "a", Markdown{"markdown_texts": "a", "text": "b"}.Text())
	assert.Equal(t, "b", Markdown{"markdown_texts": "", "text": "b"}.Text())
	assert.Equal(t, "", Markdown{"markdown_texts": 3}.Text())
	assert.False(t, Markdown{"text": "  \n"}.HasText())
	assert.True(t, Markdown{"text": "x"}.HasText())
}

func TestErrorHelpers(t *testing.T) {
	base := errors.New("connection refused")
	fetch := FetchError("Failed to download file", base)
	wrapped := fmt.Errorf("ingest: %w", fetch)

	assert.True(t, IsType(wrapped, ErrorTypeFetch))
	assert.False(t, IsType(wrapped, ErrorTypeDecode))
	assert.Equal(t, ErrorTypeFetch, TypeOf(wrapped))
	assert.Equal(t, "Failed to download file: connection refused", UserMessage(wrapped))

	pipe := PipelineError(fetch)
	assert.True(t, IsType(pipe, ErrorTypePipeline))
	assert.True(t, IsType(pipe, ErrorTypeFetch))
	assert.Equal(t, "Failed to download file: connection refused", UserMessage(pipe))

	assert.Equal(t, "plain", UserMessage(errors.New("plain")))
	assert.Equal(t, "File too large. Maximum size: 50.0 MB", UserMessage(PayloadTooLargeError(50<<20)))
}

func TestPipelineErrorDoesNotRepeatMessage(t *testing.T) {
	err := PipelineError(errors.New("CUDA out of memory"))
	assert.Equal(t, "[pipeline] CUDA out of memory", err.Error())
	assert.Equal(t, "CUDA out of memory", UserMessage(err))

	pipe := PipelineError(FetchError("Failed to download file", errors.New("connection refused")))
	assert.Equal(t, "[pipeline] Failed to download file: connection refused", pipe.Error())

	fetch := FetchError("Failed to download file", errors.New("connection refused"))
	assert.Equal(t, "[fetch] Failed to download file: connection refused", fetch.Error())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "1.5 MB", FormatBytes(3<<19))
}
