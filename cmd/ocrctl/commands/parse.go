package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/QThans/MinerU-runpod/cmd/ocrctl/ui"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/ingest"
	"github.com/QThans/MinerU-runpod/internal/normalize"
	"github.com/QThans/MinerU-runpod/internal/serverless"
	"github.com/QThans/MinerU-runpod/internal/worker"
)

var (
	parseOutput  string
	parseResult  string
	parseBackend string
	parseMethod  string
	parseStart   int
	parseEnd     int
)

var parseCmd = &cobra.Command{
	Use:   "parse <file|url>",
	Short: "Extract markdown from a document on this machine",
	Long: `Runs the extraction pipeline in process against a local file or an
http(s) URL and writes the merged markdown.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	defaults := domain.DefaultExtractOptions()
	parseCmd.Flags().StringVarP(&parseOutput, "output", "o", "", "markdown output path (default stdout)")
	parseCmd.Flags().StringVar(&parseResult, "result", "", "also write the per-page records as JSON to this path")
	parseCmd.Flags().StringVar(&parseBackend, "backend", defaults.Backend, "extraction backend")
	parseCmd.Flags().StringVar(&parseMethod, "method", defaults.Method, "parse method: auto, txt or ocr")
	parseCmd.Flags().IntVar(&parseStart, "start-page", 0, "first page, zero based")
	parseCmd.Flags().IntVar(&parseEnd, "end-page", -1, "last page, -1 for the end of the document")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	input := args[0]
	if err := checkLocalInput(input); err != nil {
		return err
	}
	if !slices.Contains(serverless.Backends, parseBackend) {
		return fmt.Errorf("invalid backend %q, expected one of %s", parseBackend, strings.Join(serverless.Backends, ", "))
	}
	if !slices.Contains(serverless.Methods, parseMethod) {
		return fmt.Errorf("invalid method %q, expected one of %s", parseMethod, strings.Join(serverless.Methods, ", "))
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt := newRuntime(cfg)
	defer rt.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	opts := domain.DefaultExtractOptions()
	opts.Backend = parseBackend
	opts.Method = parseMethod
	opts.StartPage = parseStart
	opts.EndPage = parseEnd

	spin := ui.NewSpinner("Initializing pipeline...")
	spin.Start()
	handle, err := rt.provider.Get(ctx)
	spin.Stop()
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	ui.Debug("engine %s, model %s", handle.Version(), cfg.Pipeline.ModelName)

	bar := ui.NewPageBar("Recognizing")
	start := time.Now()
	doc, err := worker.Run(ctx, rt.pool, func(ctx context.Context) (*domain.NormalizedDocument, error) {
		raw, err := handle.Extract(ctx, input, opts)
		if err != nil {
			return nil, err
		}
		return normalize.Normalize(countPages(raw, bar.Add), handle)
	})
	bar.Finish()

	switch {
	case err == nil:
	case domain.IsType(err, domain.ErrorTypePartialResult) && doc != nil && doc.PageCount > 0:
		ui.Warning("Stopped after %d pages: %s", doc.PageCount, domain.UserMessage(err))
	default:
		return fmt.Errorf("extraction failed: %s", domain.UserMessage(err))
	}

	if err := writeOutput(parseOutput, []byte(doc.Markdown)); err != nil {
		return err
	}
	if parseResult != "" {
		data, err := json.MarshalIndent(doc.Pages, "", "  ")
		if err != nil {
			return fmt.Errorf("encode page records: %w", err)
		}
		if err := writeOutput(parseResult, data); err != nil {
			return err
		}
	}

	ui.Section("Extraction Summary")
	ui.Table([]string{"Metric", "Value"}, [][]string{
		{"Pages", strconv.Itoa(doc.PageCount)},
		{"Markdown", fmt.Sprintf("%d chars", len([]rune(doc.Markdown)))},
		{"Duration", ui.FormatDuration(time.Since(start))},
		{"Engine", handle.Version()},
	})
	if parseOutput != "" && parseOutput != "-" {
		ui.Success("Markdown saved to: %s", parseOutput)
	}
	return nil
}

// checkLocalInput rejects local paths the engine cannot open. URLs are
// checked by the engine after download.
func checkLocalInput(input string) error {
	if isURL(input) {
		return nil
	}
	info, err := os.Stat(input)
	if err != nil {
		return fmt.Errorf("input file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("input %s is a directory", input)
	}
	ext := ingest.ExtOf(input)
	if !ingest.IsPDF(ext) && !ingest.ImageExtensions.Contains(ext) {
		return domain.UnsupportedFormatError(fmt.Sprintf("Unsupported file type: %q", ext))
	}
	return nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// countPages calls tick for every page the sequence yields successfully.
func countPages(raw domain.RawResult, tick func()) domain.RawResult {
	return func(yield func(domain.PageResult, error) bool) {
		for page, err := range raw {
			if err == nil {
				tick()
			}
			if !yield(page, err) {
				return
			}
		}
	}
}
