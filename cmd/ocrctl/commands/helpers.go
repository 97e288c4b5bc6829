package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/engine"
	_ "github.com/QThans/MinerU-runpod/internal/engine/tesseract"
	"github.com/QThans/MinerU-runpod/internal/ingest"
	"github.com/QThans/MinerU-runpod/internal/observability"
	"github.com/QThans/MinerU-runpod/internal/pipeline"
	"github.com/QThans/MinerU-runpod/internal/worker"
)

// runtime is the in-process pipeline stack used by local commands.
type runtime struct {
	cfg      *config.Config
	logger   *observability.Logger
	ingestor *ingest.Ingestor
	provider *pipeline.Provider
	pool     *worker.Pool
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newRuntime builds the local stack. Logs go to stderr in console format and
// stay quiet unless --verbose is set.
func newRuntime(cfg *config.Config) *runtime {
	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		Output:      os.Stderr,
		ServiceName: "ocrctl",
	})

	ingestor := ingest.NewIngestor(cfg.Ingestion, logger)
	return &runtime{
		cfg:      cfg,
		logger:   logger,
		ingestor: ingestor,
		provider: pipeline.NewProvider(cfg.Pipeline, engine.Factory(logger,
			engine.WithFetcher(ingestor),
			engine.WithTempDir(cfg.Ingestion.TempDir),
		), logger),
		pool: worker.NewPool(logger, worker.WithWorkers(1)),
	}
}

func (r *runtime) Close() {
	r.pool.Shutdown(context.Background())
}

// writeOutput writes data to path, or to stdout when path is empty or "-".
func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
