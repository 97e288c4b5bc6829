// Package pipeline owns the process-wide extraction engine handle.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/domain"
	"github.com/QThans/MinerU-runpod/internal/observability"
)

// Factory builds an engine from configuration. It may be slow and it may fail.
type Factory func(ctx context.Context, cfg config.PipelineConfig) (domain.Engine, error)

// Provider lazily constructs exactly one Handle per process and shares it.
// A failed construction is not cached; the next Get retries.
type Provider struct {
	cfg     config.PipelineConfig
	factory Factory
	logger  *observability.Logger

	handle        atomic.Pointer[Handle]
	mu            sync.Mutex
	constructions atomic.Int64
}

// NewProvider creates a provider. Nothing is constructed until the first Get.
func NewProvider(cfg config.PipelineConfig, factory Factory, logger *observability.Logger) *Provider {
	return &Provider{
		cfg:     cfg,
		factory: factory,
		logger:  logger.WithOperation("pipeline"),
	}
}

// Get returns the shared handle, constructing it on first use.
func (p *Provider) Get(ctx context.Context) (*Handle, error) {
	if h := p.handle.Load(); h != nil {
		return h, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if h := p.handle.Load(); h != nil {
		return h, nil
	}

	start := time.Now()
	p.logger.Info().
		Str("server_url", p.cfg.ServerURL).
		Str("model", p.cfg.ModelName).
		Str("device", p.cfg.Device).
		Int("cpu_threads", p.cfg.CPUThreads).
		Msg("Initializing extraction pipeline")

	engine, err := p.factory(ctx, p.cfg)
	if err != nil {
		p.logger.Error().Err(err).Msg("Pipeline initialization failed")
		return nil, domain.PipelineError(err)
	}
	p.constructions.Add(1)

	h := &Handle{engine: engine, logger: p.logger}
	p.handle.Store(h)

	p.logger.Info().
		Str("version", engine.Version()).
		Dur("elapsed", time.Since(start)).
		Msg("Extraction pipeline ready")
	return h, nil
}

// Ready reports whether the handle has been constructed.
func (p *Provider) Ready() bool {
	return p.handle.Load() != nil
}

// Constructions returns how many engines were successfully built.
func (p *Provider) Constructions() int64 {
	return p.constructions.Load()
}

// Config returns the configuration the provider builds engines with.
func (p *Provider) Config() config.PipelineConfig {
	return p.cfg
}
