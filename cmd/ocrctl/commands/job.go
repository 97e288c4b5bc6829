package commands

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/QThans/MinerU-runpod/cmd/ocrctl/ui"
	"github.com/QThans/MinerU-runpod/internal/serverless"
)

var (
	jobInputFile string
	jobFile      string
	jobURL       string
	jobBackend   string
	jobMethod    string
	jobLang      string
	jobFormat    string
	jobOutput    string
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Run a serverless job on this machine",
	Long: `Builds a job from flags, or reads one from --input, and runs it through the
same handler the serverless worker uses. The job result is printed as JSON
unless --output is given, in which case only the content is written.`,
	Example: `  ocrctl job --file scan.pdf --return-format content_list
  ocrctl job --url https://example.com/report.pdf --backend pipeline --method txt
  ocrctl job --input job.json`,
	RunE: runJob,
}

func init() {
	jobCmd.Flags().StringVar(&jobInputFile, "input", "", `job file: {"input": {...}}`)
	jobCmd.Flags().StringVar(&jobFile, "file", "", "local file sent as file_base64")
	jobCmd.Flags().StringVar(&jobURL, "url", "", "remote file sent as file_url")
	jobCmd.Flags().StringVar(&jobBackend, "backend", "", "backend (default "+serverless.DefaultBackend+")")
	jobCmd.Flags().StringVar(&jobMethod, "method", "", "method (default "+serverless.DefaultMethod+")")
	jobCmd.Flags().StringVar(&jobLang, "lang", "", "document language (default "+serverless.DefaultLang+")")
	jobCmd.Flags().StringVar(&jobFormat, "return-format", "", "markdown, json or content_list (default "+serverless.DefaultReturnFormat+")")
	jobCmd.Flags().StringVarP(&jobOutput, "output", "o", "", "write only the content to this path")
	rootCmd.AddCommand(jobCmd)
}

func runJob(cmd *cobra.Command, args []string) error {
	input, err := buildJobInput()
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt := newRuntime(cfg)
	defer rt.Close()

	handler := serverless.NewHandler(rt.logger, cfg.Serverless, rt.provider, rt.pool, rt.ingestor)
	job := serverless.Job{ID: "ocrctl-" + uuid.NewString(), Input: input}
	ui.Debug("job %s", job.ID)

	spin := ui.NewSpinner("Running job...")
	spin.Start()
	result := handler.Handle(context.Background(), job)
	spin.Stop()

	if jobOutput != "" {
		if result.Failed() {
			return errors.New(result.Error)
		}
		if err := writeOutput(jobOutput, []byte(result.Content)); err != nil {
			return err
		}
		ui.Success("%s output saved to: %s", result.Format, jobOutput)
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if result.Failed() {
		return errors.New(result.Error)
	}
	return nil
}

// buildJobInput assembles the job input map from the command flags.
func buildJobInput() (map[string]any, error) {
	if jobInputFile != "" {
		data, err := os.ReadFile(jobInputFile)
		if err != nil {
			return nil, fmt.Errorf("read job file: %w", err)
		}
		var job serverless.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, fmt.Errorf("parse job file: %w", err)
		}
		if job.Input == nil {
			return nil, fmt.Errorf("job file has no \"input\" object")
		}
		return job.Input, nil
	}

	input := map[string]any{}
	switch {
	case jobFile != "" && jobURL != "":
		return nil, fmt.Errorf("use either --file or --url, not both")
	case jobFile != "":
		data, err := os.ReadFile(jobFile)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		input["file_base64"] = base64.StdEncoding.EncodeToString(data)
		input["file_name"] = filepath.Base(jobFile)
	case jobURL != "":
		input["file_url"] = jobURL
	default:
		return nil, fmt.Errorf("one of --input, --file or --url is required")
	}

	for key, val := range map[string]string{
		"backend":       jobBackend,
		"method":        jobMethod,
		"lang":          jobLang,
		"return_format": jobFormat,
	} {
		if v := strings.TrimSpace(val); v != "" {
			input[key] = v
		}
	}
	return input, nil
}
