package server

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/loqa-wyoming/server"

type metrics struct {
	connections   metric.Int64Counter
	frames        metric.Int64Counter
	utterances    metric.Int64Counter
	audioBytes    metric.Int64Counter
	synthDuration metric.Float64Histogram

	active atomic.Int64
}

func newMetrics(pending func() int) (*metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}

	var err error
	if m.connections, err = meter.Int64Counter("loqa.wyoming.connections",
		metric.WithDescription("Accepted Wyoming connections")); err != nil {
		return nil, err
	}
	if m.frames, err = meter.Int64Counter("loqa.wyoming.frames",
		metric.WithDescription("Frames read and written, by direction and event type")); err != nil {
		return nil, err
	}
	if m.utterances, err = meter.Int64Counter("loqa.wyoming.utterances",
		metric.WithDescription("Synthesize requests by outcome")); err != nil {
		return nil, err
	}
	if m.audioBytes, err = meter.Int64Counter("loqa.wyoming.audio_bytes",
		metric.WithDescription("PCM bytes streamed to clients"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if m.synthDuration, err = meter.Float64Histogram("loqa.wyoming.synthesis.duration",
		metric.WithDescription("Time from synthesize request to backend completion"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}

	activeGauge, err := meter.Int64ObservableGauge("loqa.wyoming.connections.active",
		metric.WithDescription("Open Wyoming connections"))
	if err != nil {
		return nil, err
	}
	pendingGauge, err := meter.Int64ObservableGauge("loqa.wyoming.synthesis.pending",
		metric.WithDescription("Synthesis requests awaiting backend completion"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(activeGauge, m.active.Load())
		obs.ObserveInt64(pendingGauge, int64(pending()))
		return nil
	}, activeGauge, pendingGauge)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) frame(ctx context.Context, direction, eventType string) {
	m.frames.Add(ctx, 1, metric.WithAttributes(
		attribute.String("direction", direction),
		attribute.String("type", eventType),
	))
}

func (m *metrics) utterance(ctx context.Context, status string) {
	m.utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
