package byteevents

import (
	"time"
)

// PingEvent fires when the bytes of a ping reply have been sent.
type PingEvent struct {
	ByteEvent

	requestReceived time.Time
	now             func() time.Time
}

// PingOption customises a PingEvent.
type PingOption func(*PingEvent)

// WithPingClock replaces time.Now as the clock used by Latency.
func WithPingClock(now func() time.Time) PingOption {
	return func(e *PingEvent) { e.now = now }
}

// NewPingEvent returns a PingEvent for a reply ending at offset, answering a
// ping request received at requestReceived.
func NewPingEvent(offset uint64, requestReceived time.Time, opts ...PingOption) *PingEvent {
	e := &PingEvent{
		ByteEvent:       makeByteEvent(offset, PingReplySent),
		requestReceived: requestReceived,
		now:             time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RequestReceived returns the time the ping request was received.
func (e *PingEvent) RequestReceived() time.Time { return e.requestReceived }

// Latency returns the time elapsed since the ping request was received.
//
// It is computed on every call, so it must be read once, at the moment the
// reply bytes are confirmed sent. No clamping is applied: a request time in
// the future yields a negative duration.
func (e *PingEvent) Latency() time.Duration {
	return e.now().Sub(e.requestReceived)
}
