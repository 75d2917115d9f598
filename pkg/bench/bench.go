// Package bench drives a byte event server with concurrent streams and pings
// and reduces what both sides measured into statistics.
package bench

import (
	"context"
	"fmt"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/shivanshkc/byteevents/pkg/httpx"
)

// StreamFunc opens one stream.
type StreamFunc func(ctx context.Context) (<-chan httpx.Event, error)

// PingFunc sends one ping and returns its round trip time.
type PingFunc func(ctx context.Context) (time.Duration, error)

// Options control a benchmark run.
type Options struct {
	// Requests is the total number of requests.
	Requests int
	// Concurrency is the number of requests in flight at once.
	Concurrency int
	// Rate caps how many requests start per second. Zero means no cap.
	Rate float64
	// OnProgress, if set, is called after every completed request.
	OnProgress func(done, total int)
}

// StreamBenchmarkResults are the client-side measurements of a stream run.
type StreamBenchmarkResults struct {
	// TTFE is the time to first event, TBE the time between events and TT the
	// total time of a stream.
	TTFE, TBE, TT Durations
	// Events and Bytes count what was received over all streams.
	Events int
	Bytes  uint64
}

// BenchmarkStream runs opts.Requests streams. The first failing stream stops
// the run and its error is returned.
func BenchmarkStream(ctx context.Context, opts Options, sFunc StreamFunc) (StreamBenchmarkResults, error) {
	timingsArr, err := run(ctx, opts, func(ctx context.Context) (timings, error) {
		return benchmarkOneStream(ctx, sFunc)
	})
	if err != nil {
		return StreamBenchmarkResults{}, err
	}
	if len(timingsArr) == 0 {
		return StreamBenchmarkResults{}, nil
	}

	results := StreamBenchmarkResults{
		TTFE: timingsArr.TTFEs(),
		TBE:  timingsArr.TBEs(),
		TT:   timingsArr.TTs(),
	}
	for _, t := range timingsArr {
		results.Events += len(t.Events)
		results.Bytes += t.Bytes
	}
	return results, nil
}

// BenchmarkPing sends opts.Requests pings and returns their round trip times.
func BenchmarkPing(ctx context.Context, opts Options, pFunc PingFunc) (Durations, error) {
	timingsArr, err := run(ctx, opts, func(ctx context.Context) (timings, error) {
		start := time.Now()
		rtt, err := pFunc(ctx)
		if err != nil {
			return timings{}, err
		}
		return timings{Start: start, End: start.Add(rtt)}, nil
	})
	if err != nil {
		return nil, err
	}
	return timingsArr.TTs(), nil
}

// run executes fn opts.Requests times, at most opts.Concurrency at a time.
func run(ctx context.Context, opts Options, fn func(context.Context) (timings, error)) (timingsArray, error) {
	if opts.Requests <= 0 {
		return nil, nil
	}
	if opts.Concurrency <= 0 {
		return nil, fmt.Errorf("concurrency must be greater than 0, got %d", opts.Concurrency)
	}

	// Context for managing local goroutines.
	localCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.Rate), 1)
	}

	// Buffered so that workers never block on a finished run.
	timingsChan := make(chan timings, opts.Requests)
	errFatalChan := make(chan error, opts.Requests)

	// This channel makes sure only `Concurrency` requests execute concurrently at a given time.
	semaphore := make(chan struct{}, opts.Concurrency)

	go func() {
		for i := 0; i < opts.Requests; i++ {
			if err := limiter.Wait(localCtx); err != nil {
				return
			}

			select {
			// Either a fatal error occurred or the parent context was canceled.
			case <-localCtx.Done():
				return
			// Acquire a spot.
			case semaphore <- struct{}{}:
			}

			go func(i int) {
				// Release the spot for the next concurrent request.
				defer func() { <-semaphore }()

				t, err := fn(localCtx)
				if err != nil {
					errFatalChan <- fmt.Errorf("request %d failed: %w", i, err)
					return
				}
				t.Index = i
				timingsChan <- t
			}(i)
		}
	}()

	timingsArr := make(timingsArray, 0, opts.Requests)
	for len(timingsArr) < opts.Requests {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		// Halt all operations upon an error.
		case err := <-errFatalChan:
			return nil, err
		case t := <-timingsChan:
			timingsArr = append(timingsArr, t)
			if opts.OnProgress != nil {
				opts.OnProgress(len(timingsArr), opts.Requests)
			}
		}
	}

	slices.SortFunc(timingsArr, func(a, b timings) int { return a.Index - b.Index })
	return timingsArr, nil
}

// benchmarkOneStream executes the given stream once and records when each event arrived.
func benchmarkOneStream(ctx context.Context, sFunc StreamFunc) (timings, error) {
	// Time at which stream started.
	start := time.Now()

	eventChan, err := sFunc(ctx)
	if err != nil {
		return timings{}, err
	}

	var t timings
	for event := range eventChan {
		if event.Error != nil {
			// Drain so the producer can finish.
			for range eventChan {
			}
			return timings{}, event.Error
		}
		t.Events = append(t.Events, event.Timestamp)
		t.Bytes = event.Offset
	}

	t.Start, t.End = start, time.Now()
	return t, nil
}
