package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anqxyr/pyscp/internal/wiki"
)

func fastConfig() Config {
	return Config{
		Concurrency: 4,
		MinDelay:    time.Millisecond,
		MaxRetries:  3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func transientErr() error {
	return wiki.NewRemoteError(wiki.Transient, "fetch page", "http://test.wikidot.com/page", errors.New("503"))
}

// TestDoRetriesTransientFailures verifies a transient error is retried until the call succeeds.
func TestDoRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	d := New(fastConfig())
	var calls atomic.Int64
	err := d.Do(context.Background(), "fetch page", func(context.Context) error {
		if calls.Add(1) < 3 {
			return transientErr()
		}
		return nil
	})
	require.NoError(t, err)
	require.EqualValues(t, 3, calls.Load())
}

// TestDoTerminalErrorReturnsImmediately asserts non-transient failures are not retried.
func TestDoTerminalErrorReturnsImmediately(t *testing.T) {
	t.Parallel()

	d := New(fastConfig())
	terminal := wiki.NewRemoteError(wiki.NotFound, "fetch page", "http://test.wikidot.com/gone", errors.New("404"))
	var calls atomic.Int64
	err := d.Do(context.Background(), "fetch page", func(context.Context) error {
		calls.Add(1)
		return terminal
	})
	require.ErrorIs(t, err, terminal)
	require.EqualValues(t, 1, calls.Load())
}

// TestDoExhaustsRetries checks the final attempt's error surfaces once the budget runs out.
func TestDoExhaustsRetries(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MaxRetries = 3
	d := New(cfg)

	var calls atomic.Int64
	err := d.Do(context.Background(), "fetch votes", func(context.Context) error {
		calls.Add(1)
		return transientErr()
	})
	require.Error(t, err)
	require.True(t, wiki.IsTransient(err))
	require.EqualValues(t, 3, calls.Load())
}

// TestDoBoundsConcurrency asserts no more than Concurrency calls run at once.
func TestDoBoundsConcurrency(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.Concurrency = 2
	d := New(cfg)

	var inFlight, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := d.Do(context.Background(), "fetch page", func(context.Context) error {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				return nil
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int64(2))
}

// TestDoCanceledContext verifies a canceled context aborts before the call runs.
func TestDoCanceledContext(t *testing.T) {
	t.Parallel()

	d := New(fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int64
	err := d.Do(ctx, "fetch page", func(context.Context) error {
		calls.Add(1)
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, calls.Load())
}

// TestDoStopsRetryingOnCancel ensures cancellation during backoff ends the retry loop.
func TestDoStopsRetryingOnCancel(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MaxRetries = 100
	cfg.BaseDelay = 50 * time.Millisecond
	d := New(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int64
	done := make(chan error, 1)
	go func() {
		done <- d.Do(ctx, "fetch page", func(context.Context) error {
			calls.Add(1)
			return transientErr()
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

// recordingClock captures every sleep the dispatcher requests without
// actually waiting.
type recordingClock struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (c *recordingClock) Now() time.Time { return time.Now() }

func (c *recordingClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
}

func (c *recordingClock) sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

// TestDoPacesDispatches verifies successive calls are spaced MinDelay
// apart and that the spacing is slept out on the injected clock.
func TestDoPacesDispatches(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.MinDelay = 100 * time.Millisecond
	clk := &recordingClock{}
	cfg.Clock = clk
	d := New(cfg)

	for i := 0; i < 3; i++ {
		err := d.Do(context.Background(), "fetch page", func(context.Context) error { return nil })
		require.NoError(t, err)
	}

	// The first dispatch rides the initial token; the next two each wait
	// out at least the configured spacing.
	slept := clk.sleeps()
	require.Len(t, slept, 2)
	for _, s := range slept {
		require.GreaterOrEqual(t, s, 50*time.Millisecond)
	}
	require.GreaterOrEqual(t, slept[1], slept[0])
}

// TestBackoffIsBoundedAndGrowing sanity-checks the backoff schedule respects its cap.
func TestBackoffIsBoundedAndGrowing(t *testing.T) {
	t.Parallel()

	p := newRetryPolicy(10, 100*time.Millisecond, time.Second)
	for attempt := 0; attempt < 10; attempt++ {
		b := p.Backoff(attempt)
		require.GreaterOrEqual(t, b, 50*time.Millisecond)
		require.LessOrEqual(t, b, time.Second)
	}
}
