package bench

import (
	"sync"
	"time"

	"github.com/shivanshkc/byteevents/pkg/byteevents"
	"github.com/shivanshkc/byteevents/pkg/session"
)

// Collector gathers what the server measured. It implements
// session.Observer and is safe for concurrent use, so one Collector can
// observe every connection of a server.
type Collector struct {
	mu      sync.Mutex
	reports []session.Report
	pings   Durations
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector { return &Collector{} }

// OnTransaction implements session.Observer.
func (c *Collector) OnTransaction(r session.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

// OnPingLatency implements session.Observer.
func (c *Collector) OnPingLatency(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pings = append(c.pings, latency)
}

// ServerResults are the server-side measurements of a run. Milestones that
// were never observed are left out of their sample.
type ServerResults struct {
	Transactions int
	// Incomplete counts transactions whose session closed before the end of the message.
	Incomplete int

	FirstHeaderByte Durations
	FirstByte       Durations
	LastByte        Durations
	FirstByteTx     Durations
	LastByteTx      Durations
	LastByteAck     Durations
	PingLatency     Durations

	ExpiredTimestamps int
}

// Results reduces everything collected so far.
func (c *Collector) Results() ServerResults {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := ServerResults{Transactions: len(c.reports), PingLatency: append(Durations(nil), c.pings...)}
	for _, r := range c.reports {
		if !r.Complete {
			res.Incomplete++
		}
		res.ExpiredTimestamps += r.ExpiredTimestamps

		res.FirstHeaderByte = appendObserved(res.FirstHeaderByte, r.FirstHeaderByte)
		res.FirstByte = appendObserved(res.FirstByte, r.FirstByte)
		res.LastByte = appendObserved(res.LastByte, r.LastByte)
		res.FirstByteTx = appendObserved(res.FirstByteTx, r.FirstByteTx)
		res.LastByteTx = appendObserved(res.LastByteTx, r.LastByteTx)
		res.LastByteAck = appendObserved(res.LastByteAck, r.LastByteAck)
	}
	return res
}

// Reset forgets everything collected so far.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports, c.pings = nil, nil
}

func appendObserved(ds Durations, d time.Duration) Durations {
	if d == byteevents.NoLatency {
		return ds
	}
	return append(ds, d)
}
