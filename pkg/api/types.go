package api

import (
	"net/url"
	"strconv"
	"time"
)

// StreamRequest describes the stream asked from the server.
type StreamRequest struct {
	// Events is the number of events in the stream.
	Events int
	// Size is the number of data bytes in each event.
	Size int
	// Interval is the pause between two events.
	Interval time.Duration
}

// query encodes the request as query parameters. Zero fields are left to
// the server's defaults.
func (r StreamRequest) query() url.Values {
	values := url.Values{}
	if r.Events > 0 {
		values.Set("events", strconv.Itoa(r.Events))
	}
	if r.Size > 0 {
		values.Set("size", strconv.Itoa(r.Size))
	}
	if r.Interval > 0 {
		values.Set("interval", r.Interval.String())
	}
	return values
}
