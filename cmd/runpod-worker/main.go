// Package main provides the serverless worker entrypoint. It polls the job
// queue, or runs a single job given with --test_input.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/engine"
	_ "github.com/QThans/MinerU-runpod/internal/engine/tesseract"
	"github.com/QThans/MinerU-runpod/internal/ingest"
	"github.com/QThans/MinerU-runpod/internal/observability"
	"github.com/QThans/MinerU-runpod/internal/pipeline"
	"github.com/QThans/MinerU-runpod/internal/serverless"
	"github.com/QThans/MinerU-runpod/internal/worker"
)

var (
	cfgFile    string
	testInput  string
	healthOnly bool
)

var rootCmd = &cobra.Command{
	Use:           "runpod-worker",
	Short:         "Serverless OCR job worker",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", os.Getenv("CONFIG_PATH"), "config file path")
	rootCmd.Flags().StringVar(&testInput, "test_input", "", `run one job and exit: '{"input": {...}}' or @path/to/job.json`)
	rootCmd.Flags().BoolVar(&healthOnly, "health", false, "check that the pipeline can be initialized and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		Output:      os.Stderr,
	})

	ingestor := ingest.NewIngestor(cfg.Ingestion, logger,
		ingest.WithDownloadTimeout(cfg.Serverless.DownloadTimeout))
	provider := pipeline.NewProvider(cfg.Pipeline, engine.Factory(logger,
		engine.WithFetcher(ingestor),
		engine.WithTempDir(cfg.Serverless.TempDir),
	), logger)
	pool := worker.NewPool(logger,
		worker.WithWorkers(cfg.Workers.PoolSize),
		worker.WithQueueSize(cfg.Workers.QueueSize),
	)
	defer pool.Shutdown(context.Background())

	handler := serverless.NewHandler(logger.WithOperation("job"), cfg.Serverless, provider, pool, ingestor)
	w := serverless.NewWorker(logger, cfg.Serverless, handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if healthOnly {
		ok := handler.HealthCheck(ctx)
		fmt.Fprintln(cmd.OutOrStdout(), ok)
		if !ok {
			return fmt.Errorf("health check failed")
		}
		return nil
	}

	if testInput != "" {
		job, err := readTestJob(testInput)
		if err != nil {
			return err
		}
		result := w.RunOnce(ctx, job)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"output": result})
	}

	logger.Info().
		Str("worker_id", w.ID()).
		Str("model", cfg.Pipeline.ModelName).
		Strs("supported_types", ingest.JobExtensions).
		Msg("Starting serverless worker")

	return w.Run(ctx)
}

// readTestJob accepts the job inline or, with a leading @, from a file.
func readTestJob(arg string) (serverless.Job, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return serverless.Job{}, fmt.Errorf("read test input: %w", err)
		}
		data = b
	}

	var job serverless.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return serverless.Job{}, fmt.Errorf("parse test input: %w", err)
	}
	if job.Input == nil {
		return serverless.Job{}, fmt.Errorf("test input has no \"input\" object")
	}
	return job, nil
}
