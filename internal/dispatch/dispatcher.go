// Package dispatch gates every remote call made during a crawl. It bounds
// the number of in-flight calls, paces successive dispatches to stay under
// server-side throttling, and absorbs transient failures with bounded
// retries so callers only ever see terminal errors.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/anqxyr/pyscp/internal/clock"
	"github.com/anqxyr/pyscp/internal/clock/system"
)

const (
	defaultConcurrency = 8
	defaultMinDelay    = 250 * time.Millisecond
	defaultMaxRetries  = 5
	defaultBaseDelay   = 500 * time.Millisecond
	defaultMaxDelay    = 30 * time.Second
)

// Config controls Dispatcher behavior.
//   - Concurrency: maximum simultaneously in-flight remote calls.
//   - MinDelay: minimum spacing between successive dispatch times,
//     enforced across all operations, retries included.
//   - MaxRetries/BaseDelay/MaxDelay: transient-failure retry bounds.
//   - Clock: sleeps out pacing and backoff delays; wall clock when nil.
type Config struct {
	Concurrency int
	MinDelay    time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Clock       clock.Clock
	Logger      *zap.Logger
}

// Dispatcher serializes access to the remote site. It is safe for
// concurrent use by any number of goroutines.
type Dispatcher struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	retry   *retryPolicy
	clock   clock.Clock
	logger  *zap.Logger
}

// New constructs a Dispatcher from cfg, applying defaults for zero values.
func New(cfg Config) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = defaultMinDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sem:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		limiter: rate.NewLimiter(rate.Every(cfg.MinDelay), 1),
		retry:   newRetryPolicy(cfg.MaxRetries, cfg.BaseDelay, cfg.MaxDelay),
		clock:   cfg.Clock,
		logger:  logger,
	}
}

// Do executes one remote operation under the concurrency and pacing
// budget. Transient failures are retried with exponential backoff up to
// the configured bound; the error of the final attempt is returned once
// retries are exhausted. Terminal failures return immediately.
func (d *Dispatcher) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("dispatch %s: %w", op, err)
	}
	defer d.sem.Release(1)

	var err error
	for attempt := 0; ; attempt++ {
		if werr := d.waitTurn(ctx); werr != nil {
			return fmt.Errorf("dispatch %s: %w", op, werr)
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !d.retry.ShouldRetry(err, attempt+1) {
			return err
		}
		backoff := d.retry.Backoff(attempt)
		d.logger.Debug("retrying remote call",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		d.pause(ctx, backoff)
		if ctx.Err() != nil {
			return fmt.Errorf("dispatch %s: %w", op, ctx.Err())
		}
	}
}

// waitTurn claims the next dispatch slot from the limiter, sleeping out
// the pacing delay on the injected clock.
func (d *Dispatcher) waitTurn(ctx context.Context) error {
	r := d.limiter.Reserve()
	d.pause(ctx, r.Delay())
	if err := ctx.Err(); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

// pause blocks for delay on the clock, or until the context finishes.
func (d *Dispatcher) pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	done := make(chan struct{})
	go func() {
		d.clock.Sleep(delay)
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
}
