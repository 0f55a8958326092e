// Package instrument records delivery outcomes of the consumers as
// OpenTelemetry metrics.
//
// Recording is opt-in: consumers default to Noop. Pass NewRecorder(nil) to
// use the global meter provider configured with otel.SetMeterProvider.
package instrument

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScopeName is the instrumentation scope of every instrument.
const ScopeName = "github.com/nicktill/tinyevents"

// Recorder records consumer activity.
type Recorder interface {
	// RecordSend records records accepted by a consumer.
	RecordSend(ctx context.Context, consumer string, records int)

	// RecordFlush records one delivery attempt and its outcome.
	RecordFlush(ctx context.Context, consumer string, records int, duration time.Duration, err error)
}

type otelRecorder struct {
	accepted     metric.Int64Counter
	delivered    metric.Int64Counter
	flushes      metric.Int64Counter
	flushErrors  metric.Int64Counter
	flushLatency metric.Float64Histogram
}

// NewRecorder creates a Recorder on mp, or on the global provider when mp is
// nil. Initialization failures fall back to Noop.
func NewRecorder(mp metric.MeterProvider) Recorder {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	r, err := newOtelRecorder(mp.Meter(ScopeName))
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return Noop{}
	}
	return r
}

func newOtelRecorder(meter metric.Meter) (*otelRecorder, error) {
	accepted, err := meter.Int64Counter("tinyevents.records.accepted",
		metric.WithDescription("Records accepted by a consumer"),
	)
	if err != nil {
		return nil, err
	}

	delivered, err := meter.Int64Counter("tinyevents.records.delivered",
		metric.WithDescription("Records written or acknowledged by the receiver"),
	)
	if err != nil {
		return nil, err
	}

	flushes, err := meter.Int64Counter("tinyevents.flushes",
		metric.WithDescription("Delivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	flushErrors, err := meter.Int64Counter("tinyevents.flush.errors",
		metric.WithDescription("Failed delivery attempts"),
	)
	if err != nil {
		return nil, err
	}

	flushLatency, err := meter.Float64Histogram("tinyevents.flush.latency_ms",
		metric.WithDescription("Delivery attempt latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelRecorder{
		accepted:     accepted,
		delivered:    delivered,
		flushes:      flushes,
		flushErrors:  flushErrors,
		flushLatency: flushLatency,
	}, nil
}

// RecordSend records accepted records.
func (r *otelRecorder) RecordSend(ctx context.Context, consumer string, records int) {
	r.accepted.Add(ctx, int64(records), metric.WithAttributes(attribute.String("consumer", consumer)))
}

// RecordFlush records a delivery attempt.
func (r *otelRecorder) RecordFlush(ctx context.Context, consumer string, records int, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("consumer", consumer),
		attribute.Bool("success", err == nil),
	)
	r.flushes.Add(ctx, 1, attrs)
	r.flushLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if err != nil {
		r.flushErrors.Add(ctx, 1, attrs)
		return
	}
	r.delivered.Add(ctx, int64(records), metric.WithAttributes(attribute.String("consumer", consumer)))
}

// Noop is a Recorder that does nothing.
type Noop struct{}

var _ Recorder = Noop{}

// RecordSend does nothing.
func (Noop) RecordSend(_ context.Context, _ string, _ int) {}

// RecordFlush does nothing.
func (Noop) RecordFlush(_ context.Context, _ string, _ int, _ time.Duration, _ error) {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}
