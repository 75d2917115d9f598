package byteevents

import (
	"fmt"
	"time"

	"github.com/shivanshkc/byteevents/pkg/timeouts"
)

// TimestampCallback is told when a TimestampEvent stops waiting without
// having received its timestamp.
//
// It is the only channel through which an expired wait is reported. The
// callback owns the decision of what to do next, typically to carry on
// without a timestamp, and must not panic.
type TimestampCallback interface {
	TimestampTimeoutExpired(e *TimestampEvent)
}

// TimeoutScheduler is the facility a TimestampEvent registers itself on.
// timeouts.Set satisfies it.
type TimeoutScheduler interface {
	Schedule(cb timeouts.Callback, deadline time.Time) error
	Cancel(cb timeouts.Callback) bool
}

// TimestampState is the position of a TimestampEvent in its lifecycle.
type TimestampState uint8

const (
	// Armed events are registered on the scheduler and waiting.
	Armed TimestampState = iota
	// Fulfilled events observed their timestamp before the deadline.
	Fulfilled
	// Expired events reached the deadline first.
	Expired
	// Canceled events were released while still armed.
	Canceled
)

func (s TimestampState) String() string {
	switch s {
	case Armed:
		return "armed"
	case Fulfilled:
		return "fulfilled"
	case Expired:
		return "expired"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// TimestampEvent waits for a transmit or acknowledgment timestamp.
//
// The wait is a registration on a TimeoutScheduler, never a blocked goroutine.
// Every event leaves Armed exactly once: Fulfill when the timestamp shows up,
// TimeoutExpired when the scheduler gives up on it, or Release when the
// session goes away first. A released event is deregistered before Release
// returns, so its callback can never fire afterwards.
type TimestampEvent struct {
	TransactionEvent

	timestampKind TimestampKind
	callback      TimestampCallback
	scheduler     TimeoutScheduler
	deadline      time.Time
	state         TimestampState
}

// NewTimestampEvent binds a new event to txn and registers it on scheduler
// with the given deadline.
//
// It panics if callback, scheduler or txn is nil. If the registration fails
// the transaction counter is restored and the error is returned.
func NewTimestampEvent(
	callback TimestampCallback,
	timestampKind TimestampKind,
	offset uint64,
	kind Kind,
	txn Transaction,
	scheduler TimeoutScheduler,
	deadline time.Time,
) (*TimestampEvent, error) {
	if callback == nil {
		panic("byteevents: timestamp event created without a callback")
	}
	if scheduler == nil {
		panic("byteevents: timestamp event created without a timeout scheduler")
	}

	e := &TimestampEvent{
		timestampKind: timestampKind,
		callback:      callback,
		scheduler:     scheduler,
		deadline:      deadline,
	}
	e.bind(offset, kind, txn)

	if err := scheduler.Schedule(e, deadline); err != nil {
		e.state = Canceled
		e.TransactionEvent.Release()
		return nil, fmt.Errorf("failed to schedule %s timestamp timeout for %s: %w", timestampKind, e, err)
	}
	return e, nil
}

// TimestampKind returns the kind of timestamp the event waits for.
func (e *TimestampEvent) TimestampKind() TimestampKind { return e.timestampKind }

// Deadline returns the time after which the event stops waiting.
func (e *TimestampEvent) Deadline() time.Time { return e.deadline }

// State returns the lifecycle state.
func (e *TimestampEvent) State() TimestampState { return e.state }

// Fulfill records that the timestamp was observed. It deregisters the event
// and reports whether the event was still armed.
func (e *TimestampEvent) Fulfill() bool {
	if e.state != Armed {
		return false
	}
	e.scheduler.Cancel(e)
	e.state = Fulfilled
	return true
}

// TimeoutExpired is the scheduler hook. It forwards to the callback once.
func (e *TimestampEvent) TimeoutExpired() {
	if e.state != Armed {
		return
	}
	e.state = Expired
	e.callback.TimestampTimeoutExpired(e)
}

// Release cancels a pending wait and releases the transaction.
func (e *TimestampEvent) Release() {
	if e.state == Armed {
		e.scheduler.Cancel(e)
		e.state = Canceled
	}
	e.TransactionEvent.Release()
}

// String renders the event with its timestamp kind, e.g. "(last_byte, 1024, ack)".
func (e *TimestampEvent) String() string {
	return fmt.Sprintf("(%s, %d, %s)", e.Kind(), e.Offset(), e.timestampKind)
}
