package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shivanshkc/byteevents/pkg/byteevents"
)

// Transaction is one request/response exchange on a Session.
//
// It implements byteevents.Transaction. Byte events hold its pending counter
// while they are alive, and the transaction is only finalised (reported and
// forgotten) once a detach was requested and that counter is back to zero.
type Transaction struct {
	id      uuid.UUID
	path    string
	created time.Time

	pending         int
	detachRequested bool
	detached        bool
	onDetach        func(*Transaction)

	status       int
	headersSent  bool
	bodyStarted  bool
	eomSent      bool
	complete     bool
	bodyBytes    uint64
	trackedBytes int
	expired      int

	// Milestones keyed by what was observed. Zero means not observed.
	fired map[byteevents.Kind]time.Time
	tx    map[byteevents.Kind]time.Time
	ack   map[byteevents.Kind]time.Time
}

func newTransaction(path string, created time.Time, onDetach func(*Transaction)) *Transaction {
	return &Transaction{
		id:       uuid.New(),
		path:     path,
		created:  created,
		onDetach: onDetach,
		fired:    map[byteevents.Kind]time.Time{},
		tx:       map[byteevents.Kind]time.Time{},
		ack:      map[byteevents.Kind]time.Time{},
	}
}

// ID returns the unique ID of the transaction.
func (t *Transaction) ID() uuid.UUID { return t.id }

// Path returns the request path the transaction answers.
func (t *Transaction) Path() string { return t.path }

// PendingByteEvents returns the number of live byte events bound to t.
func (t *Transaction) PendingByteEvents() int { return t.pending }

// Detached reports whether t was finalised.
func (t *Transaction) Detached() bool { return t.detached }

// IncrementPendingByteEvents implements byteevents.Transaction.
func (t *Transaction) IncrementPendingByteEvents() {
	if t.detached {
		panic(fmt.Sprintf("session: byte event bound to detached transaction %s", t.id))
	}
	t.pending++
}

// DecrementPendingByteEvents implements byteevents.Transaction.
func (t *Transaction) DecrementPendingByteEvents() {
	if t.pending == 0 {
		panic(fmt.Sprintf("session: pending byte events of transaction %s would go negative", t.id))
	}
	t.pending--
	t.maybeDetach()
}

// Detach asks for t to be finalised as soon as no byte event refers to it.
// Only the first call has an effect.
func (t *Transaction) Detach() {
	if t.detachRequested {
		return
	}
	t.detachRequested = true
	t.maybeDetach()
}

func (t *Transaction) maybeDetach() {
	if !t.detachRequested || t.detached || t.pending > 0 {
		return
	}
	t.detached = true
	if t.onDetach != nil {
		t.onDetach(t)
	}
}

func (t *Transaction) observe(e byteevents.Event, at time.Time) {
	if _, ok := t.fired[e.Kind()]; !ok {
		t.fired[e.Kind()] = at
	}
	if e.Kind() == byteevents.TrackedByte {
		t.trackedBytes++
	}
}

func (t *Transaction) observeTimestamp(e *byteevents.TimestampEvent, ts time.Time) {
	switch e.TimestampKind() {
	case byteevents.Transmit:
		t.tx[e.Kind()] = ts
	case byteevents.Acknowledgment:
		t.ack[e.Kind()] = ts
	}
}

// Report summarises a finalised transaction. Every duration is measured from
// the creation of the transaction and is byteevents.NoLatency when the
// milestone was never observed.
type Report struct {
	TransactionID uuid.UUID
	Path          string
	Status        int
	// Complete is true once the whole final chunk was accepted by the writer.
	Complete     bool
	BodyBytes    uint64
	TrackedBytes int

	FirstHeaderByte time.Duration
	FirstByte       time.Duration
	LastByte        time.Duration
	FirstByteTx     time.Duration
	LastByteTx      time.Duration
	LastByteAck     time.Duration

	// ExpiredTimestamps counts TX and ACK waits that reached their deadline.
	ExpiredTimestamps int
}

// Report returns the current summary of t.
func (t *Transaction) Report() Report {
	since := func(m map[byteevents.Kind]time.Time, kind byteevents.Kind) time.Duration {
		at, ok := m[kind]
		if !ok {
			return byteevents.NoLatency
		}
		return at.Sub(t.created)
	}

	return Report{
		TransactionID:     t.id,
		Path:              t.path,
		Status:            t.status,
		Complete:          t.complete,
		BodyBytes:         t.bodyBytes,
		TrackedBytes:      t.trackedBytes,
		FirstHeaderByte:   since(t.fired, byteevents.FirstHeaderByte),
		FirstByte:         since(t.fired, byteevents.FirstByte),
		LastByte:          since(t.fired, byteevents.LastByte),
		FirstByteTx:       since(t.tx, byteevents.FirstByte),
		LastByteTx:        since(t.tx, byteevents.LastByte),
		LastByteAck:       since(t.ack, byteevents.LastByte),
		ExpiredTimestamps: t.expired,
	}
}
