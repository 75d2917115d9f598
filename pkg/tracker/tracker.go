// Package tracker keeps a connection's pending byte events in offset order
// and fires them as the transport confirms progress.
package tracker

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/shivanshkc/byteevents/pkg/byteevents"
)

// DefaultTimestampTimeout is how long a TX or ACK timestamp is waited for.
const DefaultTimestampTimeout = 500 * time.Millisecond

// Callback receives fired events. Events handed to it are released as soon
// as the method returns, so they must not be retained.
type Callback interface {
	// OnByteEvent is called once for every non-ping event whose offset was written.
	OnByteEvent(e byteevents.Event)
	// OnPingReplyLatency is called once for every ping reply that was written.
	OnPingReplyLatency(latency time.Duration)
	// OnTimestamp is called when a timestamp arrives for an armed timestamp event.
	OnTimestamp(e *byteevents.TimestampEvent, ts time.Time)
	// OnTimestampExpired is called when a timestamp event stops waiting.
	OnTimestampExpired(e *byteevents.TimestampEvent)
}

// Tracker owns the ordered collection of pending events of one connection.
// It is not safe for concurrent use.
type Tracker struct {
	callback  Callback
	scheduler byteevents.TimeoutScheduler
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
	meter     metric.Meter
	ins       *instruments

	// events is sorted by offset; equal offsets keep insertion order.
	events    []byteevents.Event
	txEvents  []*byteevents.TimestampEvent
	ackEvents []*byteevents.TimestampEvent
}

// Option customises a Tracker.
type Option func(*Tracker)

// WithTimestampTimeout sets how long TX and ACK timestamps are waited for.
func WithTimestampTimeout(d time.Duration) Option { return func(t *Tracker) { t.timeout = d } }

// WithClock replaces time.Now for computing timestamp deadlines.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithMeter sets the meter used for the tracker's instruments.
func WithMeter(m metric.Meter) Option { return func(t *Tracker) { t.meter = m } }

// New returns a Tracker that reports to callback and arms timestamp waits on
// scheduler.
func New(callback Callback, scheduler byteevents.TimeoutScheduler, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		callback:  callback,
		scheduler: scheduler,
		timeout:   DefaultTimestampTimeout,
		now:       time.Now,
		logger:    slog.Default().With("component", "tracker"),
		meter:     otel.Meter(MeterName),
	}
	for _, o := range opts {
		o(t)
	}

	ins, err := newInstruments(t.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker instruments: %w", err)
	}
	t.ins = ins
	return t, nil
}

// Add inserts e after every pending event with an offset lower than or equal to its own.
func (t *Tracker) Add(e byteevents.Event) {
	i := sort.Search(len(t.events), func(i int) bool { return t.events[i].Offset() > e.Offset() })
	t.events = slices.Insert(t.events, i, e)
}

// AddFirstHeaderByteEvent tracks the first byte of txn's headers.
func (t *Tracker) AddFirstHeaderByteEvent(offset uint64, txn byteevents.Transaction) {
	t.Add(byteevents.NewTransactionEvent(offset, byteevents.FirstHeaderByte, txn))
}

// AddFirstByteEvent tracks the first byte of txn's body.
func (t *Tracker) AddFirstByteEvent(offset uint64, txn byteevents.Transaction, timestamps bool) {
	t.addTransactionEvent(offset, byteevents.FirstByte, txn, timestamps)
}

// AddLastByteEvent tracks the last byte of txn.
func (t *Tracker) AddLastByteEvent(offset uint64, txn byteevents.Transaction, timestamps bool) {
	t.addTransactionEvent(offset, byteevents.LastByte, txn, timestamps)
}

// AddTrackedByteEvent tracks an arbitrary byte of txn.
func (t *Tracker) AddTrackedByteEvent(offset uint64, txn byteevents.Transaction, timestamps bool) {
	t.addTransactionEvent(offset, byteevents.TrackedByte, txn, timestamps)
}

// AddPingByteEvent tracks the end of a ping reply.
func (t *Tracker) AddPingByteEvent(offset uint64, requestReceived time.Time) {
	t.Add(byteevents.NewPingEvent(offset, requestReceived))
}

func (t *Tracker) addTransactionEvent(offset uint64, kind byteevents.Kind, txn byteevents.Transaction, timestamps bool) {
	e := byteevents.NewTransactionEvent(offset, kind, txn)
	e.SetTimestampRequested(timestamps)
	t.Add(e)
}

// ProcessByteEvents fires, in offset order, every event whose offset is
// covered by bytesWritten and returns how many fired.
func (t *Tracker) ProcessByteEvents(bytesWritten uint64) int {
	var fired int
	for len(t.events) > 0 && t.events[0].Offset() <= bytesWritten {
		// Pop before firing, the callback may add events.
		e := t.events[0]
		t.events[0] = nil
		t.events = t.events[1:]

		t.fire(e)
		e.Release()
		fired++
	}
	return fired
}

func (t *Tracker) fire(e byteevents.Event) {
	t.ins.recordFired(e.Kind())

	if e.Kind() == byteevents.PingReplySent {
		// Latency is measured now, when the reply is known to be written.
		latency := e.Latency()
		t.ins.recordPingLatency(latency)
		t.callback.OnPingReplyLatency(latency)
		return
	}
	t.callback.OnByteEvent(e)
}

// AddTimestampEvent arms a wait for a timestamp of the given kind at offset.
func (t *Tracker) AddTimestampEvent(
	tsKind byteevents.TimestampKind, kind byteevents.Kind, offset uint64, txn byteevents.Transaction,
) error {
	e, err := byteevents.NewTimestampEvent(t, tsKind, offset, kind, txn, t.scheduler, t.now().Add(t.timeout))
	if err != nil {
		return fmt.Errorf("failed to arm timestamp event: %w", err)
	}

	switch tsKind {
	case byteevents.Transmit:
		t.txEvents = append(t.txEvents, e)
	case byteevents.Acknowledgment:
		t.ackEvents = append(t.ackEvents, e)
	default:
		e.Release()
		return fmt.Errorf("unknown timestamp kind: %d", tsKind)
	}
	return nil
}

// ProcessTxTimestamp delivers a transmit timestamp covering every byte up to
// offset. It returns how many armed events were fulfilled.
func (t *Tracker) ProcessTxTimestamp(offset uint64, ts time.Time) int {
	var due []*byteevents.TimestampEvent
	t.txEvents, due = splitDue(t.txEvents, offset)
	return t.fulfil(due, ts)
}

// ProcessAckTimestamp delivers an acknowledgment timestamp covering every
// byte up to offset. It returns how many armed events were fulfilled.
func (t *Tracker) ProcessAckTimestamp(offset uint64, ts time.Time) int {
	var due []*byteevents.TimestampEvent
	t.ackEvents, due = splitDue(t.ackEvents, offset)
	return t.fulfil(due, ts)
}

func (t *Tracker) fulfil(due []*byteevents.TimestampEvent, ts time.Time) int {
	var fulfilled int
	for _, e := range due {
		if e.Fulfill() {
			t.ins.recordTimestamp(e)
			t.callback.OnTimestamp(e, ts)
			fulfilled++
		}
		e.Release()
	}
	return fulfilled
}

// splitDue separates the events covered by offset from the rest.
func splitDue(events []*byteevents.TimestampEvent, offset uint64) (remaining, due []*byteevents.TimestampEvent) {
	remaining = events[:0]
	for _, e := range events {
		if e.Offset() <= offset {
			due = append(due, e)
			continue
		}
		remaining = append(remaining, e)
	}
	clear(events[len(remaining):])
	return remaining, due
}

// TimestampTimeoutExpired implements byteevents.TimestampCallback.
func (t *Tracker) TimestampTimeoutExpired(e *byteevents.TimestampEvent) {
	switch e.TimestampKind() {
	case byteevents.Transmit:
		t.txEvents = remove(t.txEvents, e)
	case byteevents.Acknowledgment:
		t.ackEvents = remove(t.ackEvents, e)
	}

	t.logger.Debug("timestamp wait expired",
		"event", e.String(),
		"deadline", e.Deadline(),
	)
	t.ins.recordExpired(e)
	t.callback.OnTimestampExpired(e)
	e.Release()
}

func remove(events []*byteevents.TimestampEvent, e *byteevents.TimestampEvent) []*byteevents.TimestampEvent {
	if i := slices.Index(events, e); i >= 0 {
		return slices.Delete(events, i, i+1)
	}
	return events
}

// Pending returns the number of events waiting for their offset.
func (t *Tracker) Pending() int { return len(t.events) }

// PendingTimestamps returns the number of armed TX and ACK waits.
func (t *Tracker) PendingTimestamps() int { return len(t.txEvents) + len(t.ackEvents) }

// Drain releases every pending event without firing it, canceling armed
// timestamp waits. It returns how many events were dropped.
func (t *Tracker) Drain() int {
	dropped := len(t.events) + len(t.txEvents) + len(t.ackEvents)

	events, tx, ack := t.events, t.txEvents, t.ackEvents
	t.events, t.txEvents, t.ackEvents = nil, nil, nil

	for _, e := range events {
		e.Release()
	}
	for _, e := range tx {
		e.Release()
	}
	for _, e := range ack {
		e.Release()
	}

	if dropped > 0 {
		t.logger.Debug("drained pending byte events", "dropped", dropped)
	}
	return dropped
}
