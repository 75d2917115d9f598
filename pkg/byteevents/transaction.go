package byteevents

// Transaction is the part of a transaction that byte events touch.
//
// Every TransactionEvent increments the counter once when it is created and
// decrements it once when it is released, so a transaction can defer its
// finalisation until no event refers to it anymore.
type Transaction interface {
	IncrementPendingByteEvents()
	DecrementPendingByteEvents()
}

// TransactionEvent is an event bound to the transaction that produced it.
type TransactionEvent struct {
	ByteEvent

	txn      Transaction
	released bool
}

// NewTransactionEvent binds a new event to txn and increments its pending
// byte event counter.
//
// It panics if txn is nil.
func NewTransactionEvent(offset uint64, kind Kind, txn Transaction) *TransactionEvent {
	e := &TransactionEvent{}
	e.bind(offset, kind, txn)
	return e
}

func (e *TransactionEvent) bind(offset uint64, kind Kind, txn Transaction) {
	if txn == nil {
		panic("byteevents: transaction event created without a transaction")
	}

	e.ByteEvent = makeByteEvent(offset, kind)
	e.txn = txn
	e.txn.IncrementPendingByteEvents()
}

// Transaction returns the bound transaction. It never changes over the
// lifetime of the event.
func (e *TransactionEvent) Transaction() Transaction { return e.txn }

// Released reports whether Release was called.
func (e *TransactionEvent) Released() bool { return e.released }

// Release decrements the transaction's pending byte event counter. Only the
// first call has an effect.
func (e *TransactionEvent) Release() {
	if e.released {
		return
	}
	e.released = true
	e.txn.DecrementPendingByteEvents()
}
