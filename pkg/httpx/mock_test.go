package httpx_test

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// attempt is the outcome of one round trip.
type attempt func(*http.Request) (*http.Response, error)

func respond(status int, body string) attempt {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}, nil
	}
}

func refuse(message string) attempt {
	return func(*http.Request) (*http.Response, error) { return nil, errors.New(message) }
}

// scriptedTransport answers the n-th round trip with the n-th attempt.
type scriptedTransport struct {
	attempts []attempt
	requests []*http.Request
}

func (s *scriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	n := len(s.requests)
	s.requests = append(s.requests, req)
	if n >= len(s.attempts) {
		return nil, errors.New("unexpected round trip")
	}
	return s.attempts[n](req)
}

// testBody is a response body that records Close. Without a reader, Read
// blocks until the body is closed, like a connection with nothing to say.
type testBody struct {
	r         io.Reader
	closed    atomic.Bool
	closeOnce sync.Once
	closeChan chan struct{}
}

func newBody(r io.Reader) *testBody {
	return &testBody{r: r, closeChan: make(chan struct{})}
}

func newStringBody(data string) *testBody { return newBody(strings.NewReader(data)) }

func (b *testBody) Read(p []byte) (int, error) {
	if b.r == nil {
		<-b.closeChan
		return 0, io.ErrClosedPipe
	}
	return b.r.Read(p)
}

func (b *testBody) Close() error {
	b.closed.Store(true)
	b.closeOnce.Do(func() { close(b.closeChan) })
	return nil
}

func (b *testBody) isClosed() bool { return b.closed.Load() }

// failingReader fails every read with err.
type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }
