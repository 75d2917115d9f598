package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shivanshkc/byteevents/pkg/evloop"
)

// Server routes.
const (
	PathPing   = "/ping"
	PathStream = "/stream"
)

// Limits of the stream route.
const (
	DefaultStreamEvents = 10
	DefaultStreamSize   = 64
	MaxStreamEvents     = 100_000
	MaxStreamSize       = 1 << 20
)

// DoneMarker is the data of the server-sent event that ends a stream.
const DoneMarker = "[DONE]"

// Server speaks HTTP/1.1 on raw connections, with one Session and one
// evloop.Loop per connection.
//
// Routes:
//   - GET /ping replies "pong" and reports the reply latency.
//   - GET /stream?events=N&size=M&interval=D streams N server-sent events with
//     M bytes of data each, D apart. The last byte of every event is tracked.
type Server struct {
	base        *slog.Logger
	logger      *slog.Logger
	sessionOpts []Option
}

// NewServer returns a Server that creates its sessions with the given options.
func NewServer(logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{base: logger, logger: logger.With("component", "server"), sessionOpts: opts}
}

// Serve accepts connections on ln until ctx is canceled, which returns nil
// once every connection is closed. If Accept fails, every connection is
// closed and the error is returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	// Connections only end on cancellation.
	defer func() {
		cancel()
		wg.Wait()
	}()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.logger.Info("serving", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

// errConnFailed is returned when a previous write on the connection failed.
var errConnFailed = errors.New("connection failed")

// conn is the state of one connection. The session is only touched on the loop.
type conn struct {
	net.Conn
	loop   *evloop.Loop
	sess   *Session
	logger *slog.Logger
	failed atomic.Bool
}

// serveConn reads requests on the calling goroutine and writes responses on
// the connection's loop.
func (s *Server) serveConn(ctx context.Context, nc net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	remote := nc.RemoteAddr().String()
	c := &conn{
		Conn:   nc,
		loop:   evloop.New(),
		logger: s.logger.With("remote", remote),
	}
	defer func() { _ = c.Close() }()

	opts := slices.Concat(s.sessionOpts, []Option{WithLogger(s.base.With("remote", remote))})
	sess, err := New(nc, c.loop.Timeouts(), opts...)
	if err != nil {
		c.logger.Error("failed to create session", "error", err)
		return
	}
	c.sess = sess

	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	go func() {
		if err := c.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("event loop stopped", "error", err)
		}
	}()

	c.readRequests(ctx)

	// Queued writes go out before the loop stops.
	if err := c.loop.Post(ctx, c.loop.Stop); err != nil {
		c.loop.Stop()
	}
	<-c.loop.Done()
	// The loop is gone, so the session can be closed from here.
	c.sess.Close()
}

func (c *conn) readRequests(ctx context.Context) {
	reader := bufio.NewReader(c.Conn)
	for {
		req, err := http.ReadRequest(reader)
		received := time.Now()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil && !c.failed.Load() {
				c.logger.Debug("failed to read request", "error", err)
			}
			return
		}
		_, _ = io.Copy(io.Discard, req.Body)
		_ = req.Body.Close()

		c.logger.Debug("request received", "method", req.Method, "uri", req.RequestURI)
		if err := c.route(ctx, req, received); err != nil {
			if ctx.Err() == nil && !errors.Is(err, errConnFailed) {
				c.logger.Warn("failed to serve request", "uri", req.RequestURI, "error", err)
			}
			return
		}
		if req.Close {
			return
		}
	}
}

// post queues fn on the loop. The first failed write closes the connection,
// which ends the read side as well.
func (c *conn) post(ctx context.Context, fn func() error) error {
	if c.failed.Load() {
		return errConnFailed
	}
	return c.loop.Post(ctx, func() {
		if c.failed.Load() {
			return
		}
		if err := fn(); err != nil {
			c.failed.Store(true)
			c.logger.Warn("failed to write response", "error", err)
			_ = c.Close()
		}
	})
}

// route queues the response to req.
func (c *conn) route(ctx context.Context, req *http.Request, received time.Time) error {
	path := req.URL.Path
	if req.Method != http.MethodGet {
		return c.post(ctx, func() error { return sendText(c.sess, path, http.StatusMethodNotAllowed, "method not allowed") })
	}

	switch path {
	case PathPing:
		return c.post(ctx, func() error { return c.sess.SendPingReply(received, pingReply) })
	case PathStream:
		params, err := parseStreamParams(req)
		if err != nil {
			return c.post(ctx, func() error { return sendText(c.sess, path, http.StatusBadRequest, err.Error()) })
		}
		return c.stream(ctx, path, params)
	default:
		return c.post(ctx, func() error { return sendText(c.sess, path, http.StatusNotFound, "not found") })
	}
}

// stream queues every chunk of a server-sent event stream, sleeping between
// events on the reading goroutine so the loop stays free.
func (c *conn) stream(ctx context.Context, path string, p streamParams) error {
	// Only touched on the loop.
	var txn *Transaction

	header := http.Header{}
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")

	err := c.post(ctx, func() error {
		txn = c.sess.NewTransaction(path)
		return c.sess.SendHeaders(txn, http.StatusOK, header)
	})
	if err != nil {
		return err
	}

	for i := range p.events {
		if i > 0 && p.interval > 0 {
			if err := sleep(ctx, p.interval); err != nil {
				return err
			}
		}

		frame := EventFrame(i, p.size)
		if err := c.post(ctx, func() error { return c.sess.SendBody(txn, frame, true) }); err != nil {
			return err
		}
	}

	done := []byte("data: " + DoneMarker + "\n\n")
	return c.post(ctx, func() error {
		if err := c.sess.SendBody(txn, done, false); err != nil {
			return err
		}
		return c.sess.SendEOM(txn)
	})
}

// EventFrame renders the i-th server-sent event of a stream with size bytes of data.
func EventFrame(i, size int) []byte {
	frame := fmt.Appendf(nil, "id: %d\ndata: ", i)
	for j := range size {
		frame = append(frame, 'a'+byte((i+j)%26))
	}
	return append(frame, "\n\n"...)
}

var pingReply = []byte("HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 4\r\n\r\npong")

// sendText writes a complete plain text response in its own transaction.
func sendText(sess *Session, path string, status int, text string) error {
	txn := sess.NewTransaction(path)

	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	if err := sess.SendHeaders(txn, status, header); err != nil {
		txn.Detach()
		return err
	}
	if err := sess.SendBody(txn, []byte(text), false); err != nil {
		txn.Detach()
		return err
	}
	return sess.SendEOM(txn)
}

type streamParams struct {
	events   int
	size     int
	interval time.Duration
}

func parseStreamParams(req *http.Request) (streamParams, error) {
	p := streamParams{events: DefaultStreamEvents, size: DefaultStreamSize}
	query := req.URL.Query()

	if v := query.Get("events"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxStreamEvents {
			return p, fmt.Errorf("events must be an integer in [1, %d]", MaxStreamEvents)
		}
		p.events = n
	}
	if v := query.Get("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > MaxStreamSize {
			return p, fmt.Errorf("size must be an integer in [1, %d]", MaxStreamSize)
		}
		p.size = n
	}
	if v := query.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return p, fmt.Errorf("interval must be a non-negative duration")
		}
		p.interval = d
	}
	return p, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
