package bench_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shivanshkc/byteevents/pkg/bench"
	"github.com/shivanshkc/byteevents/pkg/httpx"
)

// newSuccessfulStreamFunc creates a StreamFunc that successfully produces a
// stream of mock events with a configurable delay.
func newSuccessfulStreamFunc(delay time.Duration, eventCount int) bench.StreamFunc {
	return func(ctx context.Context) (<-chan httpx.Event, error) {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, ctx.Err() // Abort early if context is canceled.
		case <-timer.C:
			// Delay has passed, continue.
		}

		ch := make(chan httpx.Event, eventCount)
		go func() {
			defer close(ch)
			for i := 0; i < eventCount; i++ {
				ch <- httpx.Event{Index: i, Offset: uint64(10 * (i + 1)), Timestamp: time.Now()}
			}
		}()
		return ch, nil
	}
}

// newFailingStreamFunc creates a StreamFunc that returns an error.
func newFailingStreamFunc(err error) bench.StreamFunc {
	return func(ctx context.Context) (<-chan httpx.Event, error) {
		return nil, err
	}
}

// TestBenchmarkStream verifies the behavior of the main benchmark orchestrator.
func TestBenchmarkStream(t *testing.T) {
	t.Run("Successful Run", func(t *testing.T) {
		// A fast stream func for a simple success case.
		streamFunc := newSuccessfulStreamFunc(10*time.Millisecond, 5)

		var progress atomic.Int32
		opts := bench.Options{
			Requests:    10,
			Concurrency: 3,
			OnProgress:  func(done, total int) { progress.Store(int32(done)) },
		}
		results, err := bench.BenchmarkStream(context.Background(), opts, streamFunc)

		assert.NoError(t, err)
		// A simple sanity check on the results. We can't know the exact values.
		assert.NotZero(t, results.TTFE.Average(), "TTFE average should not be zero")
		assert.NotZero(t, results.TT.Maximum(), "Total time maximum should not be zero")
		assert.Len(t, results.TTFE, 10)
		assert.Len(t, results.TBE, 10*4)
		assert.Equal(t, 50, results.Events)
		assert.Equal(t, uint64(10*50), results.Bytes)
		assert.Equal(t, int32(10), progress.Load())
	})

	t.Run("Run with Zero Requests", func(t *testing.T) {
		streamFunc := newSuccessfulStreamFunc(10*time.Millisecond, 5)
		results, err := bench.BenchmarkStream(context.Background(), bench.Options{Concurrency: 5}, streamFunc)
		assert.NoError(t, err)
		assert.Equal(t, bench.StreamBenchmarkResults{}, results, "Results should be zero for zero requests")
	})

	t.Run("Zero Concurrency", func(t *testing.T) {
		streamFunc := newSuccessfulStreamFunc(10*time.Millisecond, 5)
		_, err := bench.BenchmarkStream(context.Background(), bench.Options{Requests: 1}, streamFunc)
		assert.Error(t, err)
	})

	t.Run("Immediate Failure on First Request", func(t *testing.T) {
		// This stream func will always fail immediately.
		expectedErr := errors.New("permanent configuration error")
		streamFunc := newFailingStreamFunc(expectedErr)

		results, err := bench.BenchmarkStream(context.Background(), bench.Options{Requests: 10, Concurrency: 5}, streamFunc)

		require.Error(t, err)
		assert.ErrorIs(t, err, expectedErr)
		assert.Equal(t, bench.StreamBenchmarkResults{}, results, "Results should be zero on immediate failure")
	})

	t.Run("Failure Inside the Stream", func(t *testing.T) {
		expectedErr := errors.New("event 1 has 3 data bytes")
		streamFunc := func(ctx context.Context) (<-chan httpx.Event, error) {
			ch := make(chan httpx.Event, 3)
			ch <- httpx.Event{Index: 0, Timestamp: time.Now()}
			ch <- httpx.Event{Index: 1, Error: expectedErr}
			ch <- httpx.Event{Index: 2, Timestamp: time.Now()}
			close(ch)
			return ch, nil
		}

		_, err := bench.BenchmarkStream(context.Background(), bench.Options{Requests: 2, Concurrency: 1}, streamFunc)
		assert.ErrorIs(t, err, expectedErr)
	})

	t.Run("Fail-Fast on Worker Error", func(t *testing.T) {
		// Create a stream func that fails on the third attempt.
		var callCount int32
		failingErr := errors.New("simulated API error")
		streamFunc := func(ctx context.Context) (<-chan httpx.Event, error) {
			if atomic.AddInt32(&callCount, 1) == 3 {
				return nil, failingErr
			}
			return newSuccessfulStreamFunc(50*time.Millisecond, 2)(ctx)
		}

		start := time.Now()
		_, err := bench.BenchmarkStream(context.Background(), bench.Options{Requests: 10, Concurrency: 5}, streamFunc)
		duration := time.Since(start)

		require.Error(t, err)
		assert.Contains(t, err.Error(), failingErr.Error())

		// Crucially, the test should finish quickly, not after all 10 requests would have run.
		assert.Less(t, duration, 200*time.Millisecond, "Benchmark should fail fast and not wait for all requests")
	})

	t.Run("Context Cancellation", func(t *testing.T) {
		// Use a slow stream func so cancellation is guaranteed to happen mid-flight.
		streamFunc := newSuccessfulStreamFunc(5*time.Second, 10)

		// Create a context that will be canceled shortly after the test starts.
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		start := time.Now()
		_, err := bench.BenchmarkStream(ctx, bench.Options{Requests: 10, Concurrency: 3}, streamFunc)
		duration := time.Since(start)

		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded, "Error should be from context cancellation")

		// The test should terminate quickly due to cancellation.
		assert.Less(t, duration, 150*time.Millisecond, "Benchmark should respect context cancellation")
	})

	t.Run("Rate Limited", func(t *testing.T) {
		streamFunc := newSuccessfulStreamFunc(0, 1)

		start := time.Now()
		// 20 per second with a burst of 1: the fifth request starts after ~200ms.
		_, err := bench.BenchmarkStream(context.Background(), bench.Options{Requests: 5, Concurrency: 5, Rate: 20}, streamFunc)
		duration := time.Since(start)

		require.NoError(t, err)
		assert.GreaterOrEqual(t, duration, 150*time.Millisecond, "Requests should be paced")
	})
}

func TestBenchmarkPing(t *testing.T) {
	var calls atomic.Int32
	pingFunc := func(ctx context.Context) (time.Duration, error) {
		calls.Add(1)
		return 2 * time.Millisecond, nil
	}

	rtts, err := bench.BenchmarkPing(context.Background(), bench.Options{Requests: 7, Concurrency: 2}, pingFunc)
	require.NoError(t, err)
	assert.Equal(t, int32(7), calls.Load())
	require.Len(t, rtts, 7)
	for _, rtt := range rtts {
		assert.Equal(t, 2*time.Millisecond, rtt)
	}

	failing := func(ctx context.Context) (time.Duration, error) { return 0, errors.New("refused") }
	_, err = bench.BenchmarkPing(context.Background(), bench.Options{Requests: 3, Concurrency: 1}, failing)
	assert.Error(t, err)
}
