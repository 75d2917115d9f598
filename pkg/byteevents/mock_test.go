package byteevents_test

import (
	"github.com/shivanshkc/byteevents/pkg/byteevents"
)

// mockTransaction counts pending byte events the way a real transaction does,
// and refuses to go negative.
type mockTransaction struct {
	pending    int
	increments int
	decrements int
}

func (m *mockTransaction) IncrementPendingByteEvents() {
	m.pending++
	m.increments++
}

func (m *mockTransaction) DecrementPendingByteEvents() {
	if m.pending == 0 {
		panic("mockTransaction: pending byte events went negative")
	}
	m.pending--
	m.decrements++
}

// mockCallback records every expired event it is handed.
type mockCallback struct {
	expired []*byteevents.TimestampEvent
	// onExpired runs after the event is recorded, if set.
	onExpired func(e *byteevents.TimestampEvent)
}

func (m *mockCallback) TimestampTimeoutExpired(e *byteevents.TimestampEvent) {
	m.expired = append(m.expired, e)
	if m.onExpired != nil {
		m.onExpired(e)
	}
}
