// Package worker runs blocking pipeline calls on a fixed set of goroutines so
// request handlers never call the engine directly.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/QThans/MinerU-runpod/internal/observability"
)

// ErrPoolClosed is returned when work is submitted after Shutdown.
var ErrPoolClosed = errors.New("worker pool is shut down")

type task struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// Pool is a fixed-size worker pool over a bounded queue.
//
// Once a task starts it runs to completion: it receives a context that keeps
// the caller's values but is never cancelled, because the engine offers no
// way to interrupt a running extraction. A task whose caller gave up while it
// was still queued is skipped.
type Pool struct {
	logger  *observability.Logger
	workers int

	ch   chan task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan task, n)
		}
	}
}

// NewPool creates and starts a pool.
func NewPool(logger *observability.Logger, opts ...Option) *Pool {
	p := &Pool{
		logger:  logger,
		workers: 2,
		ch:      make(chan task, 64),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.workers }

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Debug().Int("worker_id", workerID).Msg("worker started")

				for t := range p.ch {
					if err := t.ctx.Err(); err != nil {
						t.done <- err
						continue
					}
					t.done <- p.run(workerID, t)
				}

				p.logger.Debug().Int("worker_id", workerID).Msg("worker stopped")
			}(i + 1)
		}
	})
}

func (p *Pool) run(workerID int, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker_id", workerID).
				Str("stack", string(debug.Stack())).
				Msgf("task panicked: %v", r)
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return t.fn(context.WithoutCancel(t.ctx))
}

// Do submits fn and waits for it to finish. Waiting for a queue slot honours
// ctx; once fn is queued Do always waits for its outcome.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.ch <- t:
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}
	p.mu.RUnlock()

	return <-t.done
}

// Run is Do for functions that produce a value.
func Run[T any](ctx context.Context, p *Pool, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := p.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// Shutdown stops accepting work and waits for queued tasks to drain.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn().Msg("worker pool shutdown interrupted by context")
	case <-done:
		p.logger.Info().Msg("worker pool drained")
	}
}
