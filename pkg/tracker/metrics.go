package tracker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/shivanshkc/byteevents/pkg/byteevents"
)

// MeterName is the instrumentation scope used when no meter is supplied.
const MeterName = "github.com/shivanshkc/byteevents/pkg/tracker"

// Metric names.
const (
	MetricFired             = "byteevents.fired"
	MetricTimestamps        = "byteevents.timestamps.observed"
	MetricTimestampsExpired = "byteevents.timestamps.expired"
	MetricPingLatency       = "byteevents.ping.latency"
)

type instruments struct {
	fired       metric.Int64Counter
	timestamps  metric.Int64Counter
	expired     metric.Int64Counter
	pingLatency metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var err error
	ins := &instruments{}

	ins.fired, err = meter.Int64Counter(MetricFired,
		metric.WithDescription("Byte events fired after their offset was written"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", MetricFired, err)
	}

	ins.timestamps, err = meter.Int64Counter(MetricTimestamps,
		metric.WithDescription("TX and ACK timestamps observed before their deadline"),
		metric.WithUnit("{timestamp}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", MetricTimestamps, err)
	}

	ins.expired, err = meter.Int64Counter(MetricTimestampsExpired,
		metric.WithDescription("TX and ACK timestamp waits that reached their deadline"),
		metric.WithUnit("{timestamp}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s counter: %w", MetricTimestampsExpired, err)
	}

	ins.pingLatency, err = meter.Float64Histogram(MetricPingLatency,
		metric.WithDescription("Time from ping request received to ping reply sent"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s histogram: %w", MetricPingLatency, err)
	}

	return ins, nil
}

func (ins *instruments) recordFired(kind byteevents.Kind) {
	ins.fired.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind.String())))
}

func (ins *instruments) recordTimestamp(e *byteevents.TimestampEvent) {
	ins.timestamps.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", e.Kind().String()),
		attribute.String("timestamp", e.TimestampKind().String()),
	))
}

func (ins *instruments) recordExpired(e *byteevents.TimestampEvent) {
	ins.expired.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", e.Kind().String()),
		attribute.String("timestamp", e.TimestampKind().String()),
	))
}

func (ins *instruments) recordPingLatency(latency time.Duration) {
	ins.pingLatency.Record(context.Background(), latency.Seconds())
}
