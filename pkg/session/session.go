// Package session writes HTTP/1.1 responses on a connection and turns the
// progress of those writes into byte events.
//
// A Session computes the offset of every milestone while bytes are queued,
// hands the events to a tracker, and fires them once the writer has accepted
// the bytes. A Session is not safe for concurrent use: it is meant to live on
// the evloop.Loop of its connection.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/shivanshkc/byteevents/pkg/byteevents"
	"github.com/shivanshkc/byteevents/pkg/tracker"
)

var (
	// ErrClosed is returned by every Send method once the session is closed.
	ErrClosed = errors.New("session is closed")
	// ErrHeadersSent is returned when headers are sent twice.
	ErrHeadersSent = errors.New("headers were already sent")
	// ErrHeadersNotSent is returned when body or EOM precede the headers.
	ErrHeadersNotSent = errors.New("headers were not sent")
	// ErrMessageComplete is returned when anything is sent after the EOM.
	ErrMessageComplete = errors.New("message is already complete")
)

// Observer receives what a session measured. It is called from the
// session's goroutine.
type Observer interface {
	// OnTransaction is called once for every finalised transaction.
	OnTransaction(r Report)
	// OnPingLatency is called once for every ping reply that was written.
	OnPingLatency(latency time.Duration)
}

// Session is the egress side of one connection.
type Session struct {
	w        io.Writer
	tracker  *tracker.Tracker
	observer Observer
	logger   *slog.Logger
	now      func() time.Time

	txTimestamps       bool
	ackTimestamps      bool
	softwareTimestamps bool

	// trackerOpts are only used while constructing the tracker.
	trackerOpts []tracker.Option

	bytesScheduled uint64
	bytesWritten   uint64
	open           map[*Transaction]struct{}
	closed         bool
}

// Option customises a Session.
type Option func(*Session)

// WithObserver sets the observer of finalised transactions and ping latencies.
func WithObserver(o Observer) Option { return func(s *Session) { s.observer = o } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.logger = l.With("component", "session")
		s.trackerOpts = append(s.trackerOpts, tracker.WithLogger(l.With("component", "tracker")))
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
		s.trackerOpts = append(s.trackerOpts, tracker.WithClock(now))
	}
}

// WithMeter sets the meter used by the session's tracker.
func WithMeter(m metric.Meter) Option {
	return func(s *Session) { s.trackerOpts = append(s.trackerOpts, tracker.WithMeter(m)) }
}

// WithTimestamps selects which timestamps are requested. TX timestamps are
// requested for the first and last byte of a response, ACK timestamps for
// its last byte only.
func WithTimestamps(tx, ack bool) Option {
	return func(s *Session) { s.txTimestamps, s.ackTimestamps = tx, ack }
}

// WithTimestampTimeout sets how long a requested timestamp is waited for.
func WithTimestampTimeout(d time.Duration) Option {
	return func(s *Session) { s.trackerOpts = append(s.trackerOpts, tracker.WithTimestampTimeout(d)) }
}

// WithSoftwareTimestamps makes the session report a TX timestamp for every
// byte accepted by the writer, taken right after the write returns.
func WithSoftwareTimestamps() Option { return func(s *Session) { s.softwareTimestamps = true } }

// New returns a Session writing to w. Timestamp waits are armed on scheduler,
// which must be driven from the same goroutine as the session.
func New(w io.Writer, scheduler byteevents.TimeoutScheduler, opts ...Option) (*Session, error) {
	s := &Session{
		w:      w,
		logger: slog.Default().With("component", "session"),
		now:    time.Now,
		open:   map[*Transaction]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}

	t, err := tracker.New(s, scheduler, s.trackerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracker: %w", err)
	}
	s.tracker = t
	s.trackerOpts = nil
	return s, nil
}

// BytesScheduled returns the number of bytes handed to the writer so far.
func (s *Session) BytesScheduled() uint64 { return s.bytesScheduled }

// BytesWritten returns the number of bytes the writer accepted so far.
func (s *Session) BytesWritten() uint64 { return s.bytesWritten }

// Tracker returns the session's tracker.
func (s *Session) Tracker() *tracker.Tracker { return s.tracker }

// NewTransaction starts a transaction answering a request for path.
func (s *Session) NewTransaction(path string) *Transaction {
	txn := newTransaction(path, s.now(), s.finish)
	s.open[txn] = struct{}{}
	return txn
}

// SendHeaders writes the status line and headers of a chunked response.
func (s *Session) SendHeaders(txn *Transaction, status int, header http.Header) error {
	if err := s.check(txn); err != nil {
		return err
	}
	if txn.headersSent {
		return ErrHeadersSent
	}

	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Del("Content-Length")
	h.Set("Transfer-Encoding", "chunked")

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))
	if err := h.Write(&buf); err != nil {
		return fmt.Errorf("failed to encode headers: %w", err)
	}
	buf.WriteString("\r\n")

	txn.headersSent = true
	txn.status = status
	s.tracker.AddFirstHeaderByteEvent(s.bytesScheduled+1, txn)
	return s.write(buf.Bytes())
}

// SendBody writes p as one chunk. The first body byte of a transaction
// becomes a FirstByte event. If track is set, the last byte of p becomes a
// TrackedByte event.
func (s *Session) SendBody(txn *Transaction, p []byte, track bool) error {
	if err := s.check(txn); err != nil {
		return err
	}
	if !txn.headersSent {
		return ErrHeadersNotSent
	}
	if len(p) == 0 {
		return nil
	}

	buf := fmt.Appendf(nil, "%x\r\n", len(p))
	first := s.bytesScheduled + uint64(len(buf)) + 1
	last := first + uint64(len(p)) - 1
	buf = append(buf, p...)
	buf = append(buf, "\r\n"...)

	if !txn.bodyStarted {
		txn.bodyStarted = true
		s.tracker.AddFirstByteEvent(first, txn, s.txTimestamps)
	}
	if track {
		s.tracker.AddTrackedByteEvent(last, txn, false)
	}
	txn.bodyBytes += uint64(len(p))
	return s.write(buf)
}

// SendEOM writes the final chunk. Its last byte becomes the LastByte event,
// and the transaction is detached once every event bound to it is released.
// Nothing can be sent on txn afterwards, even if the write fails.
func (s *Session) SendEOM(txn *Transaction) error {
	if err := s.check(txn); err != nil {
		return err
	}
	if !txn.headersSent {
		return ErrHeadersNotSent
	}

	const terminator = "0\r\n\r\n"
	txn.eomSent = true
	s.tracker.AddLastByteEvent(s.bytesScheduled+uint64(len(terminator)), txn, s.txTimestamps || s.ackTimestamps)

	err := s.write([]byte(terminator))
	txn.complete = err == nil
	txn.Detach()
	return err
}

// SendPingReply writes frame, a complete reply to a ping request received at
// the given time. The latency is reported once the last byte is written.
func (s *Session) SendPingReply(received time.Time, frame []byte) error {
	if s.closed {
		return ErrClosed
	}
	if len(frame) == 0 {
		return nil
	}

	s.tracker.AddPingByteEvent(s.bytesScheduled+uint64(len(frame)), received)
	return s.write(frame)
}

// ReportTxTimestamp delivers a transmit timestamp for every byte up to offset.
func (s *Session) ReportTxTimestamp(offset uint64, ts time.Time) int {
	return s.tracker.ProcessTxTimestamp(offset, ts)
}

// ReportAckTimestamp delivers an acknowledgment timestamp for every byte up to offset.
func (s *Session) ReportAckTimestamp(offset uint64, ts time.Time) int {
	return s.tracker.ProcessAckTimestamp(offset, ts)
}

// Close drops every pending event and detaches every open transaction.
// Calling it again has no effect.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true

	if dropped := s.tracker.Drain(); dropped > 0 {
		s.logger.Debug("session closed with pending byte events",
			"dropped", dropped,
			"bytes_scheduled", s.bytesScheduled,
			"bytes_written", s.bytesWritten,
		)
	}
	for txn := range s.open {
		txn.Detach()
	}
}

func (s *Session) check(txn *Transaction) error {
	switch {
	case s.closed:
		return ErrClosed
	case txn.eomSent:
		return ErrMessageComplete
	default:
		return nil
	}
}

// write hands p to the writer and fires whatever the accepted bytes cover.
func (s *Session) write(p []byte) error {
	s.bytesScheduled += uint64(len(p))

	n, err := s.w.Write(p)
	s.bytesWritten += uint64(n)

	if n > 0 {
		s.tracker.ProcessByteEvents(s.bytesWritten)
		if s.softwareTimestamps {
			s.tracker.ProcessTxTimestamp(s.bytesWritten, s.now())
		}
	}
	if err != nil {
		return fmt.Errorf("failed to write %d bytes: %w", len(p), err)
	}
	return nil
}

// finish is called by a transaction when it is detached.
func (s *Session) finish(txn *Transaction) {
	delete(s.open, txn)
	report := txn.Report()

	s.logger.Debug("transaction finished",
		"id", report.TransactionID,
		"path", report.Path,
		"complete", report.Complete,
		"body_bytes", report.BodyBytes,
		"expired_timestamps", report.ExpiredTimestamps,
	)
	if s.observer != nil {
		s.observer.OnTransaction(report)
	}
}

// OnByteEvent implements tracker.Callback. Timestamps are armed here, when
// the milestone is known to be written, for the events that requested them.
func (s *Session) OnByteEvent(e byteevents.Event) {
	txn, ok := e.Transaction().(*Transaction)
	if !ok {
		return
	}
	txn.observe(e, s.now())

	if !e.TimestampRequested() {
		return
	}
	for _, tsKind := range s.timestampKinds(e.Kind()) {
		if err := s.tracker.AddTimestampEvent(tsKind, e.Kind(), e.Offset(), txn); err != nil {
			s.logger.Warn("failed to request timestamp", "event", e.String(), "timestamp", tsKind, "error", err)
		}
	}
}

// timestampKinds returns the timestamps captured for an event of the given kind.
func (s *Session) timestampKinds(kind byteevents.Kind) []byteevents.TimestampKind {
	var kinds []byteevents.TimestampKind
	switch kind {
	case byteevents.FirstByte:
		if s.txTimestamps {
			kinds = append(kinds, byteevents.Transmit)
		}
	case byteevents.LastByte:
		if s.txTimestamps {
			kinds = append(kinds, byteevents.Transmit)
		}
		if s.ackTimestamps {
			kinds = append(kinds, byteevents.Acknowledgment)
		}
	}
	return kinds
}

// OnPingReplyLatency implements tracker.Callback.
func (s *Session) OnPingReplyLatency(latency time.Duration) {
	if s.observer != nil {
		s.observer.OnPingLatency(latency)
	}
}

// OnTimestamp implements tracker.Callback.
func (s *Session) OnTimestamp(e *byteevents.TimestampEvent, ts time.Time) {
	if txn, ok := e.Transaction().(*Transaction); ok {
		txn.observeTimestamp(e, ts)
	}
}

// OnTimestampExpired implements tracker.Callback.
func (s *Session) OnTimestampExpired(e *byteevents.TimestampEvent) {
	if txn, ok := e.Transaction().(*Transaction); ok {
		txn.expired++
	}
}
