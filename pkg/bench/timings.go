package bench

import (
	"time"
)

// timings holds the complete timing information of a single request.
type timings struct {
	Index      int
	Start, End time.Time
	// Events holds the arrival time of every event of a stream.
	Events []time.Time
	// Bytes is the body offset of the last event of a stream.
	Bytes uint64
}

// timingsArray represents the collection of timing information from multiple
// parallel runs.
type timingsArray []timings

// TTFEs accumulates the Time To First Event (TTFE) for each stream run into a
// single slice for statistical analysis.
func (a timingsArray) TTFEs() Durations {
	out := make(Durations, 0, len(a))
	for _, t := range a {
		// Safely handle streams that produced no events.
		if len(t.Events) > 0 {
			out = append(out, t.Events[0].Sub(t.Start))
		}
	}
	return out
}

// TBEs accumulates the Time Between Events (TBE) for all events across all
// stream runs into a single slice.
func (a timingsArray) TBEs() Durations {
	// Pre-calculate the total number of TBE values for efficient allocation.
	var total int
	for _, t := range a {
		if len(t.Events) > 1 {
			total += len(t.Events) - 1
		}
	}
	if total == 0 {
		return nil
	}

	out := make(Durations, 0, total)
	for _, t := range a {
		// Safely handle streams with fewer than two events.
		for i := 1; i < len(t.Events); i++ {
			out = append(out, t.Events[i].Sub(t.Events[i-1]))
		}
	}
	return out
}

// TTs accumulates the Total Time (TT) for each run into a single slice.
func (a timingsArray) TTs() Durations {
	out := make(Durations, len(a))
	for i, t := range a {
		out[i] = t.End.Sub(t.Start)
	}
	return out
}
