package session_test

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/shivanshkc/byteevents/pkg/session"
)

// recorder is a goroutine-safe session.Observer.
type recorder struct {
	mu      sync.Mutex
	reports []session.Report
	pings   []time.Duration
}

func (r *recorder) OnTransaction(report session.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *recorder) OnPingLatency(latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pings = append(r.pings, latency)
}

func (r *recorder) Reports() []session.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Report(nil), r.reports...)
}

func (r *recorder) Pings() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.pings...)
}

// stepClock advances by step on every reading.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), step: time.Millisecond}
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

var errWriterFull = errors.New("writer is full")

// limitedWriter accepts at most limit bytes in total.
type limitedWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	room := w.limit - w.buf.Len()
	if room <= 0 {
		return 0, errWriterFull
	}
	if len(p) > room {
		w.buf.Write(p[:room])
		return room, errWriterFull
	}
	return w.buf.Write(p)
}
