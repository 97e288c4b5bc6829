package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/QThans/MinerU-runpod/cmd/ocrctl/ui"
)

var (
	remoteServer  string
	remoteOutput  string
	remoteTimeout time.Duration
)

var remoteCmd = &cobra.Command{
	Use:   "remote <file|url>",
	Short: "Extract markdown through a running OCR API",
	Long: `Uploads a local file to POST /parse/file, or passes a URL to POST /parse,
on a running OCR API and writes the returned markdown.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemote,
}

func init() {
	remoteCmd.Flags().StringVarP(&remoteServer, "server", "s", envOr("OCR_API_URL", "http://localhost:8000"), "OCR API base URL")
	remoteCmd.Flags().StringVarP(&remoteOutput, "output", "o", "", "markdown output path (default stdout)")
	remoteCmd.Flags().DurationVar(&remoteTimeout, "timeout", 30*time.Minute, "overall request timeout")
	rootCmd.AddCommand(remoteCmd)
}

// remoteResponse covers both the success and the error envelope.
type remoteResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Markdown string `json:"markdown"`
	Pages    int    `json:"pages"`
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
}

func runRemote(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), remoteTimeout)
	defer cancel()

	start := time.Now()
	resp, err := submitRemote(ctx, http.DefaultClient, remoteServer, args[0], true)
	if err != nil {
		return err
	}

	if err := writeOutput(remoteOutput, []byte(resp.Markdown)); err != nil {
		return err
	}

	ui.Section("Extraction Summary")
	rows := [][]string{
		{"Server", remoteServer},
		{"Pages", strconv.Itoa(resp.Pages)},
		{"Duration", ui.FormatDuration(time.Since(start))},
	}
	if resp.Filename != "" {
		rows = append(rows, []string{"File", fmt.Sprintf("%s (%d bytes)", resp.Filename, resp.FileSize)})
	}
	ui.Table([]string{"Metric", "Value"}, rows)
	return nil
}

// submitRemote sends input to the API and decodes the reply. Non-2xx replies
// become errors carrying the server's message.
func submitRemote(ctx context.Context, client *http.Client, server, input string, progress bool) (*remoteResponse, error) {
	server = strings.TrimRight(server, "/")

	var req *http.Request
	var err error
	if isURL(input) {
		body, _ := json.Marshal(map[string]string{"input": input})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, server+"/parse", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, err = uploadRequest(ctx, server+"/parse/file", input, progress)
		if err != nil {
			return nil, err
		}
	}

	var spin *ui.Spinner
	if progress && isURL(input) {
		spin = ui.NewSpinner("Waiting for the server...")
		spin.Start()
	}
	httpResp, err := client.Do(req)
	if spin != nil {
		spin.Stop()
	}
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer httpResp.Body.Close()

	var out remoteResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response (HTTP %d): %w", httpResp.StatusCode, err)
	}
	if httpResp.StatusCode != http.StatusOK || out.Status != "success" {
		return nil, fmt.Errorf("server returned %d: %s", httpResp.StatusCode, out.Message)
	}
	return &out, nil
}

// uploadRequest streams path as the multipart field "file" without reading
// it into memory.
func uploadRequest(ctx context.Context, url, path string, progress bool) (*http.Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat input: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer f.Close()
		var src io.Reader = f
		finish := func() {}
		if progress {
			src, finish = ui.TrackReader(f, info.Size(), "Uploading")
		}

		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, src)
		}
		finish()
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
