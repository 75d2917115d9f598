// Package byteevents defines the events that mark milestones in a connection's
// outbound byte stream.
//
// An event is created when the bytes of a milestone (the first byte of a
// response, its last byte, a ping reply, an arbitrary tracked offset) are
// queued for writing. It is stored by a tracker in offset order and fired once
// the transport confirms that the stream has been written, or acknowledged, up
// to its offset.
//
// Four shapes exist:
//   - ByteEvent: the bare descriptor (offset, kind, timestamp flag).
//   - PingEvent: a ping reply; its latency is measured at inspection time.
//   - TransactionEvent: bound to a transaction whose pending-event counter it holds.
//   - TimestampEvent: a TransactionEvent that waits, through a timeout
//     scheduler, for a transmit or acknowledgment timestamp.
//
// All of them are meant to be used from a single goroutine per connection.
package byteevents

import (
	"cmp"
	"fmt"
	"time"
)

// NoLatency is returned by Event.Latency when the event kind has nothing to measure.
const NoLatency time.Duration = -1

const (
	offsetBits = 60
	kindBits   = 3

	// MaxOffset is the largest offset an event can hold. Larger offsets are truncated.
	MaxOffset uint64 = 1<<offsetBits - 1

	kindShift = offsetBits
	kindMask  = 1<<kindBits - 1
	flagShift = offsetBits + kindBits
)

// Event is the contract shared by all byte events.
type Event interface {
	// Offset is the cumulative count of outbound bytes at which the event fires.
	Offset() uint64
	// Kind identifies the milestone.
	Kind() Kind
	// TimestampRequested reports whether the creator asked for TX/ACK timestamps
	// to be captured when this event fires.
	TimestampRequested() bool
	// SetTimestampRequested marks or clears the timestamp request.
	SetTimestampRequested(requested bool)
	// Latency returns the measured latency for the event, or NoLatency.
	Latency() time.Duration
	// Transaction returns the bound transaction, or nil.
	Transaction() Transaction
	// Release ends the event's lifetime. It must be called exactly when the
	// event is discarded; calling it again has no effect.
	Release()

	fmt.Stringer
}

// ByteEvent is the base event. Offset, kind and the timestamp flag are packed
// into a single word.
type ByteEvent struct {
	packed uint64
}

// NewByteEvent returns an event of the given kind at offset. Offsets above
// MaxOffset are truncated to their low 60 bits.
func NewByteEvent(offset uint64, kind Kind) *ByteEvent {
	e := makeByteEvent(offset, kind)
	return &e
}

func makeByteEvent(offset uint64, kind Kind) ByteEvent {
	return ByteEvent{packed: offset&MaxOffset | uint64(kind&kindMask)<<kindShift}
}

func (e *ByteEvent) Offset() uint64 { return e.packed & MaxOffset }

func (e *ByteEvent) Kind() Kind { return Kind(e.packed >> kindShift & kindMask) }

func (e *ByteEvent) TimestampRequested() bool { return e.packed>>flagShift&1 == 1 }

func (e *ByteEvent) SetTimestampRequested(requested bool) {
	if requested {
		e.packed |= 1 << flagShift
		return
	}
	e.packed &^= 1 << flagShift
}

// Latency is not measurable for the base event.
func (e *ByteEvent) Latency() time.Duration { return NoLatency }

// Transaction is nil for the base event.
func (e *ByteEvent) Transaction() Transaction { return nil }

// Release has nothing to undo for the base event.
func (e *ByteEvent) Release() {}

// String renders the event for logs, e.g. "(last_byte, 1024)".
func (e *ByteEvent) String() string {
	return fmt.Sprintf("(%s, %d)", e.Kind(), e.Offset())
}

// Compare orders events by offset only.
func Compare(a, b Event) int {
	return cmp.Compare(a.Offset(), b.Offset())
}

// Less reports whether a fires strictly before b.
func Less(a, b Event) bool {
	return a.Offset() < b.Offset()
}
