package tracker_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/shivanshkc/byteevents/pkg/byteevents"
	"github.com/shivanshkc/byteevents/pkg/timeouts"
	"github.com/shivanshkc/byteevents/pkg/tracker"
)

// mockTransaction counts pending byte events.
type mockTransaction struct {
	pending int
}

func (m *mockTransaction) IncrementPendingByteEvents() { m.pending++ }
func (m *mockTransaction) DecrementPendingByteEvents() { m.pending-- }

// fired is one callback invocation.
type fired struct {
	kind   byteevents.Kind
	offset uint64
	txn    byteevents.Transaction
}

// mockCallback records every tracker callback.
type mockCallback struct {
	events     []fired
	pings      []time.Duration
	timestamps []time.Time
	stamped    []string
	expired    []string
	// onByteEvent runs for every fired non-ping event, if set.
	onByteEvent func(e byteevents.Event)
}

func (m *mockCallback) OnByteEvent(e byteevents.Event) {
	m.events = append(m.events, fired{kind: e.Kind(), offset: e.Offset(), txn: e.Transaction()})
	if m.onByteEvent != nil {
		m.onByteEvent(e)
	}
}

func (m *mockCallback) OnPingReplyLatency(latency time.Duration) { m.pings = append(m.pings, latency) }

func (m *mockCallback) OnTimestamp(e *byteevents.TimestampEvent, ts time.Time) {
	m.timestamps = append(m.timestamps, ts)
	m.stamped = append(m.stamped, e.String())
}

func (m *mockCallback) OnTimestampExpired(e *byteevents.TimestampEvent) {
	m.expired = append(m.expired, e.String())
}

// newTracker builds a tracker on a fresh timeout set with a fixed clock.
func newTracker(t *testing.T, cb tracker.Callback, now time.Time, opts ...tracker.Option) (*tracker.Tracker, *timeouts.Set) {
	t.Helper()
	set := timeouts.New()
	opts = append([]tracker.Option{tracker.WithClock(func() time.Time { return now })}, opts...)
	tr, err := tracker.New(cb, set, opts...)
	require.NoError(t, err)
	return tr, set
}

func TestTracker_ProcessByteEvents(t *testing.T) {
	cb := &mockCallback{}
	txn := &mockTransaction{}
	tr, _ := newTracker(t, cb, time.Now())

	// Added out of order on purpose.
	tr.AddLastByteEvent(300, txn, false)
	tr.AddFirstHeaderByteEvent(1, txn)
	tr.AddTrackedByteEvent(150, txn, false)
	tr.AddFirstByteEvent(100, txn, false)
	assert.Equal(t, 4, tr.Pending())
	assert.Equal(t, 4, txn.pending)

	// --- Test Cases ---
	steps := []struct {
		name          string
		bytesWritten  uint64
		expectedFired int
		expectedKinds []byteevents.Kind
	}{
		{name: "Nothing Written Yet", bytesWritten: 0, expectedFired: 0},
		{name: "Header Byte", bytesWritten: 99, expectedFired: 1, expectedKinds: []byteevents.Kind{byteevents.FirstHeaderByte}},
		{name: "Exactly At Offset", bytesWritten: 100, expectedFired: 1, expectedKinds: []byteevents.Kind{byteevents.FirstByte}},
		{name: "Everything Else", bytesWritten: 1000, expectedFired: 2, expectedKinds: []byteevents.Kind{byteevents.TrackedByte, byteevents.LastByte}},
		{name: "Nothing Left", bytesWritten: 5000, expectedFired: 0},
	}

	// --- Test Runner ---
	for _, step := range steps {
		before := len(cb.events)
		got := tr.ProcessByteEvents(step.bytesWritten)
		assert.Equal(t, step.expectedFired, got, step.name)

		var kinds []byteevents.Kind
		for _, f := range cb.events[before:] {
			kinds = append(kinds, f.kind)
			assert.Same(t, txn, f.txn, step.name)
		}
		assert.Equal(t, step.expectedKinds, kinds, step.name)
	}

	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, 0, txn.pending, "Fired events must be released.")
}

func TestTracker_EqualOffsetsKeepInsertionOrder(t *testing.T) {
	cb := &mockCallback{}
	txn := &mockTransaction{}
	tr, _ := newTracker(t, cb, time.Now())

	tr.AddTrackedByteEvent(50, txn, false)
	tr.AddLastByteEvent(50, txn, false)
	tr.AddFirstByteEvent(10, txn, false)
	tr.AddTrackedByteEvent(50, txn, true)

	tr.ProcessByteEvents(50)

	require.Len(t, cb.events, 4)
	assert.Equal(t, []fired{
		{kind: byteevents.FirstByte, offset: 10, txn: txn},
		{kind: byteevents.TrackedByte, offset: 50, txn: txn},
		{kind: byteevents.LastByte, offset: 50, txn: txn},
		{kind: byteevents.TrackedByte, offset: 50, txn: txn},
	}, cb.events)
}

func TestTracker_PingLatency(t *testing.T) {
	cb := &mockCallback{}
	tr, _ := newTracker(t, cb, time.Now())

	tr.AddPingByteEvent(20, time.Now().Add(-100*time.Millisecond))
	tr.ProcessByteEvents(20)

	require.Len(t, cb.pings, 1)
	assert.GreaterOrEqual(t, cb.pings[0], 100*time.Millisecond)
	assert.Empty(t, cb.events, "Pings are reported through their own method.")
}

func TestTracker_CallbackMayAddEvents(t *testing.T) {
	txn := &mockTransaction{}
	cb := &mockCallback{}
	tr, _ := newTracker(t, cb, time.Now())

	cb.onByteEvent = func(e byteevents.Event) {
		if e.Kind() == byteevents.FirstByte {
			tr.AddLastByteEvent(e.Offset()+10, txn, false)
		}
	}

	tr.AddFirstByteEvent(5, txn, false)
	assert.Equal(t, 2, tr.ProcessByteEvents(100), "An event added during firing is still fired if covered.")
	assert.Equal(t, 0, txn.pending)
}

func TestTracker_TimestampFulfilled(t *testing.T) {
	cb := &mockCallback{}
	txn := &mockTransaction{}
	now := time.Now()
	tr, set := newTracker(t, cb, now)

	require.NoError(t, tr.AddTimestampEvent(byteevents.Transmit, byteevents.LastByte, 100, txn))
	require.NoError(t, tr.AddTimestampEvent(byteevents.Transmit, byteevents.LastByte, 200, txn))
	require.NoError(t, tr.AddTimestampEvent(byteevents.Acknowledgment, byteevents.LastByte, 100, txn))
	assert.Equal(t, 3, tr.PendingTimestamps())
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, 3, txn.pending)

	ts := now.Add(time.Millisecond)
	assert.Equal(t, 1, tr.ProcessTxTimestamp(150, ts))
	assert.Equal(t, []string{"(last_byte, 100, tx)"}, cb.stamped)
	assert.Equal(t, []time.Time{ts}, cb.timestamps)

	assert.Equal(t, 0, tr.ProcessTxTimestamp(150, ts), "A timestamp is delivered once.")
	assert.Equal(t, 1, tr.ProcessAckTimestamp(100, ts))
	assert.Equal(t, 1, tr.ProcessTxTimestamp(200, ts))

	assert.Equal(t, 0, tr.PendingTimestamps())
	assert.Equal(t, 0, set.Len(), "Fulfilled events must be deregistered.")
	assert.Equal(t, 0, txn.pending)
	assert.Empty(t, cb.expired)
}

func TestTracker_TimestampExpired(t *testing.T) {
	cb := &mockCallback{}
	txn := &mockTransaction{}
	now := time.Now()
	tr, set := newTracker(t, cb, now, tracker.WithTimestampTimeout(100*time.Millisecond))

	require.NoError(t, tr.AddTimestampEvent(byteevents.Acknowledgment, byteevents.LastByte, 100, txn))
	require.NoError(t, tr.AddTimestampEvent(byteevents.Transmit, byteevents.FirstByte, 10, txn))

	assert.Equal(t, 0, set.Expire(now.Add(99*time.Millisecond)))
	assert.Equal(t, 2, set.Expire(now.Add(100*time.Millisecond)))

	assert.Equal(t, []string{"(last_byte, 100, ack)", "(first_byte, 10, tx)"}, cb.expired)
	assert.Equal(t, 0, tr.PendingTimestamps())
	assert.Equal(t, 0, txn.pending)

	// A late timestamp finds nothing to fulfil.
	assert.Equal(t, 0, tr.ProcessAckTimestamp(100, now))
	assert.Empty(t, cb.stamped)
}

func TestTracker_Drain(t *testing.T) {
	cb := &mockCallback{}
	txn := &mockTransaction{}
	now := time.Now()
	tr, set := newTracker(t, cb, now)

	tr.AddFirstByteEvent(10, txn, true)
	tr.AddLastByteEvent(20, txn, true)
	tr.AddPingByteEvent(30, now)
	require.NoError(t, tr.AddTimestampEvent(byteevents.Acknowledgment, byteevents.LastByte, 20, txn))

	assert.Equal(t, 4, tr.Drain())
	assert.Equal(t, 0, tr.Pending())
	assert.Equal(t, 0, tr.PendingTimestamps())
	assert.Equal(t, 0, txn.pending)
	assert.Equal(t, 0, set.Len(), "Armed waits must be canceled on drain.")

	set.Expire(now.Add(time.Hour))
	tr.ProcessByteEvents(1000)
	assert.Empty(t, cb.events)
	assert.Empty(t, cb.expired)
	assert.Empty(t, cb.pings)

	assert.Equal(t, 0, tr.Drain())
}

func TestTracker_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	cb := &mockCallback{}
	txn := &mockTransaction{}
	now := time.Now()
	tr, set := newTracker(t, cb, now, tracker.WithMeter(provider.Meter("test")))

	tr.AddFirstByteEvent(1, txn, false)
	tr.AddTrackedByteEvent(2, txn, false)
	tr.AddTrackedByteEvent(3, txn, false)
	tr.AddPingByteEvent(4, now)
	tr.ProcessByteEvents(10)

	require.NoError(t, tr.AddTimestampEvent(byteevents.Acknowledgment, byteevents.LastByte, 10, txn))
	require.NoError(t, tr.AddTimestampEvent(byteevents.Transmit, byteevents.LastByte, 10, txn))
	tr.ProcessTxTimestamp(10, now)
	set.Expire(now.Add(time.Hour))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	assert.Equal(t, map[string]int64{"first_byte": 1, "tracked_byte": 2, "ping_reply_sent": 1},
		sumByAttribute(t, rm, tracker.MetricFired, "kind"))
	assert.Equal(t, map[string]int64{"tx": 1}, sumByAttribute(t, rm, tracker.MetricTimestamps, "timestamp"))
	assert.Equal(t, map[string]int64{"ack": 1}, sumByAttribute(t, rm, tracker.MetricTimestampsExpired, "timestamp"))
}

// sumByAttribute flattens an int64 sum into attribute value -> total.
func sumByAttribute(t *testing.T, rm metricdata.ResourceMetrics, name, key string) map[string]int64 {
	t.Helper()
	out := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "metric %s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key(key))
				out[v.AsString()] += dp.Value
			}
		}
	}
	return out
}
