package serverless

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/QThans/MinerU-runpod/internal/config"
	"github.com/QThans/MinerU-runpod/internal/observability"
)

// ErrNoQueue is returned by Run when no job endpoint is configured.
var ErrNoQueue = errors.New("serverless job endpoint is not configured")

// Worker pulls jobs from the queue one at a time and posts their results.
type Worker struct {
	handler  *Handler
	cfg      config.ServerlessConfig
	client   *http.Client
	workerID string
	logger   *observability.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithQueueClient sets the HTTP client used for the queue endpoints.
func WithQueueClient(c *http.Client) WorkerOption {
	return func(w *Worker) {
		if c != nil {
			w.client = c
		}
	}
}

// NewWorker creates a queue worker. A worker id is generated when the
// configuration does not carry one.
func NewWorker(logger *observability.Logger, cfg config.ServerlessConfig, handler *Handler, opts ...WorkerOption) *Worker {
	w := &Worker{
		handler:  handler,
		cfg:      cfg,
		client:   &http.Client{Timeout: 90 * time.Second},
		workerID: cfg.WorkerID,
	}
	if w.workerID == "" {
		w.workerID = uuid.NewString()
	}
	w.logger = logger.With().Str("worker_id", w.workerID).Logger()
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker id sent to the queue.
func (w *Worker) ID() string { return w.workerID }

// Run polls for jobs until ctx is cancelled. A job that has started is
// finished and reported even if ctx is cancelled meanwhile.
func (w *Worker) Run(ctx context.Context) error {
	if w.cfg.GetJobURL == "" || w.cfg.PostOutputURL == "" {
		return ErrNoQueue
	}

	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	w.logger.Info().Dur("poll_interval", interval).Msg("Worker started")
	for {
		job, err := w.next(ctx)
		switch {
		case ctx.Err() != nil:
			w.logger.Info().Msg("Worker stopped")
			return nil
		case err != nil:
			w.logger.Warn().Err(err).Msg("Failed to fetch job")
		case job != nil:
			w.process(ctx, *job)
			continue
		}

		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Worker stopped")
			return nil
		case <-time.After(interval):
		}
	}
}

// RunOnce handles a single job without the queue.
func (w *Worker) RunOnce(ctx context.Context, job Job) JobResult {
	if job.ID == "" {
		job.ID = "local-" + uuid.NewString()
	}
	return w.handler.Handle(ctx, job)
}

func (w *Worker) process(ctx context.Context, job Job) {
	result := w.handler.Handle(context.WithoutCancel(ctx), job)

	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := w.post(postCtx, job.ID, result); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to post job result")
	}
}

// next fetches a job. It returns nil and no error when the queue is empty.
func (w *Worker) next(ctx context.Context) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, expandID(w.cfg.GetJobURL, w.workerID), nil)
	if err != nil {
		return nil, fmt.Errorf("create job request: %w", err)
	}
	w.authorize(req)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("get job: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if job.ID == "" {
		return nil, fmt.Errorf("decode job: missing id")
	}
	if job.Input == nil {
		job.Input = map[string]any{}
	}
	return &job, nil
}

func (w *Worker) post(ctx context.Context, jobID string, result JobResult) error {
	body, err := json.Marshal(map[string]any{"output": result})
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, expandID(w.cfg.PostOutputURL, jobID), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create result request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	w.authorize(req)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post result: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post result: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (w *Worker) authorize(req *http.Request) {
	if w.cfg.APIKey != "" {
		req.Header.Set("Authorization", w.cfg.APIKey)
	}
}

// expandID substitutes the $ID placeholder the queue uses in its endpoint
// templates.
func expandID(tmpl, id string) string {
	return strings.ReplaceAll(tmpl, "$ID", id)
}
