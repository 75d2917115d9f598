// Package timeouts multiplexes many pending deadlines behind a single owner.
//
// A Set does not start timers or goroutines of its own. The owner (usually an
// evloop.Loop) asks for the NextDeadline, sleeps until then, and calls Expire.
// This keeps every expiry hook on the owner's goroutine, so callbacks never
// need to synchronise with the code that scheduled them.
//
// A Set is not safe for concurrent use.
package timeouts

import (
	"container/heap"
	"errors"
	"time"
)

// ErrAlreadyScheduled is returned when a callback is scheduled twice without
// expiring or being canceled in between.
var ErrAlreadyScheduled = errors.New("callback is already scheduled")

// Callback is notified when its deadline elapses.
type Callback interface {
	TimeoutExpired()
}

// entry is a single registration.
type entry struct {
	cb       Callback
	deadline time.Time
	seq      uint64
	index    int
}

// entryHeap orders entries by deadline, then by registration order.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if !h[i].deadline.Equal(h[j].deadline) {
		return h[i].deadline.Before(h[j].deadline)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Set holds callbacks ordered by deadline.
type Set struct {
	entries entryHeap
	byCb    map[Callback]*entry
	nextSeq uint64
}

// New returns an empty Set.
func New() *Set {
	return &Set{byCb: make(map[Callback]*entry)}
}

// Schedule registers cb to be expired at deadline.
func (s *Set) Schedule(cb Callback, deadline time.Time) error {
	if _, exists := s.byCb[cb]; exists {
		return ErrAlreadyScheduled
	}

	e := &entry{cb: cb, deadline: deadline, seq: s.nextSeq}
	s.nextSeq++

	heap.Push(&s.entries, e)
	s.byCb[cb] = e
	return nil
}

// Cancel removes cb from the set. It reports whether cb was scheduled.
func (s *Set) Cancel(cb Callback) bool {
	e, exists := s.byCb[cb]
	if !exists {
		return false
	}

	heap.Remove(&s.entries, e.index)
	delete(s.byCb, cb)
	return true
}

// IsScheduled reports whether cb is waiting for its deadline.
func (s *Set) IsScheduled(cb Callback) bool {
	_, exists := s.byCb[cb]
	return exists
}

// Len returns the number of pending callbacks.
func (s *Set) Len() int { return len(s.entries) }

// NextDeadline returns the earliest pending deadline.
func (s *Set) NextDeadline() (time.Time, bool) {
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	return s.entries[0].deadline, true
}

// Expire invokes every callback whose deadline is at or before now and returns
// how many were invoked.
//
// Each callback is removed before it is invoked, so it fires at most once and
// may freely Schedule or Cancel other callbacks. Callbacks scheduled during
// Expire with a deadline that has already passed are expired in the same call.
func (s *Set) Expire(now time.Time) int {
	var fired int
	for len(s.entries) > 0 && !s.entries[0].deadline.After(now) {
		e := heap.Pop(&s.entries).(*entry)
		delete(s.byCb, e.cb)

		e.cb.TimeoutExpired()
		fired++
	}
	return fired
}
