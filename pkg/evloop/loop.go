// Package evloop runs a connection's work on a single goroutine.
//
// Byte events, their tracker and the timeout set are not synchronised; they
// rely on being touched from one goroutine only. A Loop provides that
// goroutine: other goroutines hand work to it with Post, and it fires due
// timeouts between tasks.
//
//	loop := evloop.New()
//	go loop.Run(ctx)
//	_ = loop.Post(ctx, func() { session.SendEOM(txn) })
package evloop

import (
	"context"
	"errors"
	"time"

	"github.com/shivanshkc/byteevents/pkg/timeouts"
)

// ErrLoopStopped is returned by Post once the loop has stopped.
var ErrLoopStopped = errors.New("event loop stopped")

// Loop serialises tasks and timeout expiries.
type Loop struct {
	tasks    chan func()
	stop     chan struct{}
	done     chan struct{}
	timeouts *timeouts.Set
	now      func() time.Time
}

// Option customises a Loop.
type Option func(*Loop)

// WithClock replaces time.Now as the loop's clock.
func WithClock(now func() time.Time) Option { return func(l *Loop) { l.now = now } }

// WithQueueSize sets how many posted tasks may wait before Post blocks.
func WithQueueSize(n int) Option { return func(l *Loop) { l.tasks = make(chan func(), n) } }

// New returns a Loop that is not running yet.
func New(opts ...Option) *Loop {
	l := &Loop{
		tasks:    make(chan func(), 64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		timeouts: timeouts.New(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Timeouts returns the loop's timeout set. It must only be used from tasks
// running on the loop.
func (l *Loop) Timeouts() *timeouts.Set { return l.timeouts }

// Now returns the current time according to the loop's clock.
func (l *Loop) Now() time.Time { return l.now() }

// Post queues fn to run on the loop. It blocks while the queue is full, and
// fails if the loop stops or ctx is canceled first.
func (l *Loop) Post(ctx context.Context, fn func()) error {
	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}

	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop makes Run return after the task in progress. Only the first call has
// an effect.
func (l *Loop) Stop() {
	select {
	case <-l.stop:
	default:
		close(l.stop)
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run executes tasks and expires timeouts until Stop is called, which
// returns nil, or ctx is canceled, which returns ctx.Err().
//
// Run must be called at most once. Tasks still queued when it returns are
// dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	// A single timer is re-armed for the earliest pending deadline.
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		l.armTimer(timer)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case fn := <-l.tasks:
			fn()
		case <-timer.C:
			l.timeouts.Expire(l.now())
		}
	}
}

// armTimer points timer at the next deadline, or parks it when nothing is
// pending.
func (l *Loop) armTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	next, ok := l.timeouts.NextDeadline()
	if !ok {
		timer.Reset(time.Hour)
		return
	}
	timer.Reset(max(next.Sub(l.now()), 0))
}
