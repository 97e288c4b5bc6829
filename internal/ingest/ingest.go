// Package ingest acquires input documents (uploads, remote URLs and inline
// base64) into scoped temporary workspaces without ever holding more than a
// bounded number of bytes.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/observability"
)

// DefaultChunkSize is the read size used while streaming inputs to disk
const DefaultChunkSize = 1 << 20

// Workspace is a private temporary directory owned by one request or job.
type Workspace struct {
	dir  string
	once sync.Once
	err  error
}

// NewWorkspace creates a fresh directory under root (os.TempDir() if empty).
func NewWorkspace(root, prefix string) (*Workspace, error) {
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, domain.IOError("create temp root", err)
		}
	}
	dir, err := os.MkdirTemp(root, prefix+"*")
	if err != nil {
		return nil, domain.IOError("create workspace", err)
	}
	return &Workspace{dir: dir}, nil
}

func (w *Workspace) Dir() string { return w.dir }

// Path joins elem onto the workspace directory.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.dir}, elem...)...)
}

// Close removes the workspace and everything in it. It is safe to call more
// than once.
func (w *Workspace) Close() error {
	w.once.Do(func() {
		w.err = os.RemoveAll(w.dir)
	})
	return w.err
}

// Ingestor streams inputs into workspaces.
type Ingestor struct {
	chunkSize       int
	userAgent       string
	downloadTimeout time.Duration
	client          *http.Client
	logger          *observability.Logger
}

type Option func(*Ingestor)

// WithHTTPClient replaces the client used for remote fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(i *Ingestor) {
		if c != nil {
			i.client = c
		}
	}
}

// WithDownloadTimeout overrides the configured fetch timeout.
func WithDownloadTimeout(d time.Duration) Option {
	return func(i *Ingestor) {
		if d > 0 {
			i.downloadTimeout = d
		}
	}
}

// NewIngestor creates an Ingestor from the ingestion settings.
func NewIngestor(cfg config.IngestionConfig, logger *observability.Logger, opts ...Option) *Ingestor {
	i := &Ingestor{
		chunkSize:       cfg.ChunkSize,
		userAgent:       cfg.UserAgent,
		downloadTimeout: cfg.DownloadTimeout,
		client:          &http.Client{},
		logger:          logger,
	}
	if i.chunkSize <= 0 {
		i.chunkSize = DefaultChunkSize
	}
	if i.userAgent == "" {
		i.userAgent = "MinerU-RunPod/1.0"
	}
	if i.downloadTimeout <= 0 {
		i.downloadTimeout = 300 * time.Second
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// IngestUpload persists an uploaded body. filename is the client supplied
// name and only its extension is used on disk.
func (i *Ingestor) IngestUpload(ctx context.Context, ws *Workspace, r io.Reader, filename string, maxBytes int64) (*domain.IngestedFile, error) {
	return i.persist(ctx, ws, r, filename, maxBytes, domain.SourceUpload, func(err error) error {
		return domain.IOError("read upload", err)
	})
}

// IngestRemote downloads rawURL with a bounded timeout.
func (i *Ingestor) IngestRemote(ctx context.Context, ws *Workspace, rawURL, filename string, maxBytes int64) (*domain.IngestedFile, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, domain.FetchError("Failed to download file", fmt.Errorf("invalid URL %q", rawURL))
	}

	ctx, cancel := context.WithTimeout(ctx, i.downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.FetchError("Failed to download file", err)
	}
	req.Header.Set("User-Agent", i.userAgent)

	i.logger.Info().Str("url", redactURL(u)).Msg("Downloading file")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, domain.FetchError("Failed to download file", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, domain.FetchError(fmt.Sprintf("Failed to download file: HTTP %d", resp.StatusCode), nil)
	}
	if resp.ContentLength > maxBytes {
		return nil, domain.PayloadTooLargeError(maxBytes)
	}

	if filename == "" {
		filename = filepath.Base(u.Path)
	}
	return i.persist(ctx, ws, resp.Body, filename, maxBytes, domain.SourceURLFetch, func(err error) error {
		return domain.FetchError("Failed to download file", err)
	})
}

// IngestInline decodes standard base64, optionally prefixed with a
// "data:<mime>;base64," header, straight to disk.
func (i *Ingestor) IngestInline(ctx context.Context, ws *Workspace, b64, filename string, maxBytes int64) (*domain.IngestedFile, error) {
	if strings.HasPrefix(b64, "data:") {
		if idx := strings.IndexByte(b64, ','); idx >= 0 {
			b64 = b64[idx+1:]
		}
	}
	dec := base64.NewDecoder(base64.StdEncoding, strings.NewReader(strings.TrimSpace(b64)))
	return i.persist(ctx, ws, dec, filename, maxBytes, domain.SourceInlineBase64, func(err error) error {
		return domain.DecodeError("Invalid base64 file content", err)
	})
}

// sourceError marks a failure of the input stream, as opposed to the disk.
type sourceError struct{ err error }

func (e *sourceError) Error() string { return e.err.Error() }

func (i *Ingestor) persist(ctx context.Context, ws *Workspace, src io.Reader, filename string, maxBytes int64,
	kind domain.SourceKind, classify func(error) error) (*domain.IngestedFile, error) {

	ext := ExtOf(filename)
	storeName := "input"
	if ext != "" {
		storeName += "." + ext
	}
	path := ws.Path(storeName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, domain.IOError("create input file", err)
	}

	hash := sha256.New()
	total, err := copyBounded(ctx, io.MultiWriter(f, hash), src, maxBytes, i.chunkSize)
	closeErr := f.Close()
	if err == nil && closeErr != nil {
		err = domain.IOError("close input file", closeErr)
	}
	if err == nil && total == 0 {
		err = domain.EmptyInputError("Uploaded file is empty")
	}
	if err != nil {
		os.Remove(path)
		var se *sourceError
		if errors.As(err, &se) {
			err = classify(se.err)
		}
		return nil, err
	}

	i.logger.Debug().
		Str("source", string(kind)).
		Str("path", path).
		Int64("size_bytes", total).
		Msg("Input persisted")

	return &domain.IngestedFile{
		Path:      path,
		Name:      filepath.Base(filename),
		Ext:       ext,
		SizeBytes: total,
		SHA256:    hex.EncodeToString(hash.Sum(nil)),
		Source:    kind,
	}, nil
}

// copyBounded copies src to dst in chunkSize reads and stops as soon as the
// running total exceeds maxBytes.
func copyBounded(ctx context.Context, dst io.Writer, src io.Reader, maxBytes int64, chunkSize int) (int64, error) {
	buf := make([]byte, chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, &sourceError{err: err}
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if total > maxBytes {
				return total, domain.PayloadTooLargeError(maxBytes)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, domain.IOError("write input file", err)
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			var de *domain.DomainError
			if errors.As(rerr, &de) {
				return total, rerr
			}
			return total, &sourceError{err: rerr}
		}
	}
}

func redactURL(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}
