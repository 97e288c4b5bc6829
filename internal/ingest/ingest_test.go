package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/observability"
)

func newTestIngestor(chunk int, opts ...Option) *Ingestor {
	cfg := config.DefaultConfig().Ingestion
	cfg.ChunkSize = chunk
	return NewIngestor(cfg, observability.Nop(), opts...)
}

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir(), "test_")
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

// countingReader records how many bytes were pulled from the source.
type countingReader struct {
	r    io.Reader
	read int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += int64(n)
	return n, err
}

func TestIngestUpload(t *testing.T) {
	ws := newWorkspace(t)
	ing := newTestIngestor(4)

	body := []byte("%PDF-1.7 fake body")
	f, err := ing.IngestUpload(context.Background(), ws, bytes.NewReader(body), "Report.PDF", 1024)
	require.NoError(t, err)

	sum := sha256.Sum256(body)
	assert.Equal(t, int64(len(body)), f.SizeBytes)
	assert.Equal(t, "pdf", f.Ext)
	assert.Equal(t, "Report.PDF", f.Name)
	assert.Equal(t, domain.SourceUpload, f.Source)
	assert.Equal(t, hex.EncodeToString(sum[:]), f.SHA256)
	assert.Equal(t, ws.Path("input.pdf"), f.Path)

	onDisk, err := os.ReadFile(f.Path)
	require.NoError(t, err)
	assert.Equal(t, body, onDisk)
}

func TestIngestUploadStopsAtLimit(t *testing.T) {
	ws := newWorkspace(t)
	ing := newTestIngestor(10)

	src := &countingReader{r: bytes.NewReader(make([]byte, 10_000))}
	_, err := ing.IngestUpload(context.Background(), ws, src, "big.pdf", 25)
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypePayloadTooLarge))

	// Reading stops within one chunk past the limit.
	assert.LessOrEqual(t, src.read, int64(35))

	_, statErr := os.Stat(ws.Path("input.pdf"))
	assert.True(t, os.IsNotExist(statErr), "partial file must be removed")
}

func TestIngestUploadExactlyAtLimit(t *testing.T) {
	ws := newWorkspace(t)
	f, err := newTestIngestor(7).IngestUpload(context.Background(), ws, bytes.NewReader(make([]byte, 25)), "a.png", 25)
	require.NoError(t, err)
	assert.Equal(t, int64(25), f.SizeBytes)
}

func TestIngestUploadEmpty(t *testing.T) {
	ws := newWorkspace(t)
	_, err := newTestIngestor(0).IngestUpload(context.Background(), ws, strings.NewReader(""), "a.pdf", 10)
	assert.True(t, domain.IsType(err, domain.ErrorTypeEmptyInput))
}

func TestIngestInline(t *testing.T) {
	payload := []byte("hello image bytes")
	enc := base64.StdEncoding.EncodeToString(payload)

	tests := []struct {
		name  string
		input string
	}{
		{"plain", enc},
		{"data url", "data:image/png;base64," + enc},
		{"line wrapped", enc[:8] + "\n" + enc[8:]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := newWorkspace(t)
			f, err := newTestIngestor(0).IngestInline(context.Background(), ws, tt.input, "input.png", 1024)
			require.NoError(t, err)
			assert.Equal(t, domain.SourceInlineBase64, f.Source)

			onDisk, err := os.ReadFile(f.Path)
			require.NoError(t, err)
			assert.Equal(t, payload, onDisk)
		})
	}
}

func TestIngestInlineErrors(t *testing.T) {
	ws := newWorkspace(t)
	ing := newTestIngestor(0)

	_, err := ing.IngestInline(context.Background(), ws, "!!!not base64!!!", "input.pdf", 1024)
	assert.True(t, domain.IsType(err, domain.ErrorTypeDecode))

	big := base64.StdEncoding.EncodeToString(make([]byte, 100))
	_, err = ing.IngestInline(context.Background(), ws, big, "input.pdf", 50)
	assert.True(t, domain.IsType(err, domain.ErrorTypePayloadTooLarge))
}

func TestIngestRemote(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		switch r.URL.Path {
		case "/doc.pdf":
			w.Write([]byte("%PDF remote"))
		case "/huge.pdf":
			w.Header().Set("Content-Length", "1000000")
			w.Write(make([]byte, 1000000))
		case "/stream.pdf":
			// No Content-Length: chunked body enforced incrementally.
			flusher := w.(http.Flusher)
			for i := 0; i < 100; i++ {
				w.Write(make([]byte, 100))
				flusher.Flush()
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ing := newTestIngestor(16)

	t.Run("ok", func(t *testing.T) {
		ws := newWorkspace(t)
		f, err := ing.IngestRemote(context.Background(), ws, srv.URL+"/doc.pdf", "", 1024)
		require.NoError(t, err)
		assert.Equal(t, "MinerU-RunPod/1.0", gotUA)
		assert.Equal(t, domain.SourceURLFetch, f.Source)
		assert.Equal(t, "doc.pdf", f.Name)
		assert.Equal(t, int64(len("%PDF remote")), f.SizeBytes)
	})

	t.Run("content length over limit", func(t *testing.T) {
		ws := newWorkspace(t)
		_, err := ing.IngestRemote(context.Background(), ws, srv.URL+"/huge.pdf", "", 1024)
		assert.True(t, domain.IsType(err, domain.ErrorTypePayloadTooLarge))
	})

	t.Run("streamed body over limit", func(t *testing.T) {
		ws := newWorkspace(t)
		_, err := ing.IngestRemote(context.Background(), ws, srv.URL+"/stream.pdf", "", 1024)
		assert.True(t, domain.IsType(err, domain.ErrorTypePayloadTooLarge))
	})

	t.Run("not found", func(t *testing.T) {
		ws := newWorkspace(t)
		_, err := ing.IngestRemote(context.Background(), ws, srv.URL+"/missing.pdf", "", 1024)
		require.Error(t, err)
		assert.True(t, domain.IsType(err, domain.ErrorTypeFetch))
		assert.Contains(t, domain.UserMessage(err), "HTTP 404")
	})

	t.Run("bad scheme", func(t *testing.T) {
		ws := newWorkspace(t)
		_, err := ing.IngestRemote(context.Background(), ws, "ftp://example.com/a.pdf", "", 1024)
		assert.True(t, domain.IsType(err, domain.ErrorTypeFetch))
	})
}

func TestIngestRemoteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ws := newWorkspace(t)
	ing := newTestIngestor(0, WithDownloadTimeout(50*time.Millisecond))
	_, err := ing.IngestRemote(context.Background(), ws, srv.URL+"/slow.pdf", "", 1024)
	assert.True(t, domain.IsType(err, domain.ErrorTypeFetch))
}

func TestWorkspaceClose(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir(), "mineru_")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(ws.Path("input.pdf"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(ws.Path("output", "input", "vlm"), 0o755))

	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())

	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestExtensionPolicy(t *testing.T) {
	ext, err := CheckUpload("scan.JPEG")
	require.NoError(t, err)
	assert.Equal(t, "jpeg", ext)

	_, err = CheckUpload("notes.txt")
	require.Error(t, err)
	assert.True(t, domain.IsType(err, domain.ErrorTypeUnsupportedFormat))
	assert.True(t, strings.HasPrefix(domain.UserMessage(err), "Unsupported file format"))

	_, err = CheckUpload("noext")
	assert.Error(t, err)

	assert.True(t, JobExtensions.Contains("webp"))
	assert.True(t, JobExtensions.Contains(".JP2"))
	assert.False(t, UploadExtensions.Contains("webp"))
	assert.Equal(t, "pdf", ExtOfURLPath("/files/a.b/report.pdf"))
	assert.Equal(t, "", ExtOfURLPath("/files/report"))
}
