package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/QThans/MinerU-runpod/internal/observability"
)

func TestRunReturnsValue(t *testing.T) {
	p := NewPool(observability.Nop(), WithWorkers(2))
	defer p.Shutdown(context.Background())

	v, err := Run(context.Background(), p, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestStartedTaskSurvivesCallerCancellation(t *testing.T) {
	p := NewPool(observability.Nop(), WithWorkers(1))
	defer p.Shutdown(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	var sawCancel atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Do(ctx, func(taskCtx context.Context) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			sawCancel.Store(taskCtx.Err() != nil)
			return nil
		})
	}()

	<-started
	cancel()

	require.NoError(t, <-errCh)
	assert.False(t, sawCancel.Load())
}

func TestQueuedTaskSkippedWhenCallerGone(t *testing.T) {
	p := NewPool(observability.Nop(), WithWorkers(1))
	defer p.Shutdown(context.Background())

	release := make(chan struct{})
	busy := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func(context.Context) error {
			close(busy)
			<-release
			return nil
		})
	}()
	<-busy

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Do(ctx, func(context.Context) error {
			ran.Store(true)
			return nil
		})
	}()

	// Give the second task time to be queued behind the first.
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.False(t, ran.Load())
}

func TestPanicBecomesError(t *testing.T) {
	p := NewPool(observability.Nop())
	defer p.Shutdown(context.Background())

	err := p.Do(context.Background(), func(context.Context) error {
		panic("engine crashed")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine crashed")

	// The worker keeps serving after a panic.
	require.NoError(t, p.Do(context.Background(), func(context.Context) error { return nil }))
}

func TestConcurrencyIsBounded(t *testing.T) {
	p := NewPool(observability.Nop(), WithWorkers(3), WithQueueSize(1))
	defer p.Shutdown(context.Background())

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(context.Context) error {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestDoAfterShutdown(t *testing.T) {
	p := NewPool(observability.Nop())
	p.Shutdown(context.Background())

	err := p.Do(context.Background(), func(context.Context) error { return nil })
	assert.True(t, errors.Is(err, ErrPoolClosed))
}
