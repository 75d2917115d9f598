package httpx

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// DoneMarker is the data value that ends a stream.
const DoneMarker = "[DONE]"

// Event represents a single server-sent event.
type Event struct {
	// Index is the position of the event in the stream.
	Index int
	ID    string
	Data  string
	// Offset is the number of body bytes read up to and including the blank
	// line that ended the event.
	Offset uint64
	Error  error
	// Timestamp is taken as soon as the blank line ending the event is read.
	Timestamp time.Time
}

// ReadEvents reads the given response body assuming it is a stream of server-sent events
// and returns a channel for the caller to consume the events.
//
// It takes ownership of the response body and guarantees it will be closed.
func ReadEvents(ctx context.Context, body io.ReadCloser) <-chan Event {
	eventChan := make(chan Event, 100)

	// producerCtx is a local context for managing the producer's lifecycle.
	// When the producer goroutine finishes (for any reason), it calls cancel(),
	// which signals the context watcher goroutine to exit.
	producerCtx, cancel := context.WithCancel(ctx)

	// This goroutine listens for the parent context's cancellation
	// and closes the body to unblock the reader.
	go func() {
		<-producerCtx.Done()
		_ = body.Close()
	}()

	go func() {
		defer close(eventChan)
		defer cancel()

		reader := bufio.NewReader(body)

		var offset uint64
		var current Event
		var hasFields bool

		for index := 0; ; {
			line, err := reader.ReadString('\n')
			timestamp := time.Now() // Capture timestamp immediately after read.
			offset += uint64(len(line))

			if err != nil {
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				// Don't send EOF as a discrete error event.
				if !errors.Is(err, io.EOF) {
					eventChan <- Event{Index: index, Offset: offset, Error: err, Timestamp: timestamp}
				}
				return
			}

			field, value, blank := parseLine(line)
			if !blank {
				switch field {
				case "id":
					current.ID, hasFields = value, true
				case "data":
					if current.Data != "" {
						current.Data += "\n"
					}
					current.Data, hasFields = current.Data+value, true
				}
				continue
			}

			// A blank line dispatches the event, if it has any field.
			if !hasFields {
				continue
			}
			if current.Data == DoneMarker {
				return
			}

			current.Index, current.Offset, current.Timestamp = index, offset, timestamp
			eventChan <- current
			current, hasFields = Event{}, false
			index++
		}
	}()

	return eventChan
}

// parseLine splits an event stream line into its field and value. Comments
// come back as an empty field.
//
// IT MUST NOT BE AN EXPENSIVE OPERATION, otherwise the arrival timestamp of the event won't be correct.
func parseLine(line string) (field, value string, blank bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", "", true
	}
	if strings.HasPrefix(line, ":") {
		return "", "", false
	}

	field, value, _ = strings.Cut(line, ":")
	return field, strings.TrimPrefix(value, " "), false
}
