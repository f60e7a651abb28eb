package ksink

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// sinkMetrics mirrors the instrument set spec §8 asks for: a send count
// split by outcome and a failure count per topic, for dashboards built on
// whatever backend the application's MeterProvider exports to.
type sinkMetrics struct {
	sendCount    metric.Int64Counter
	failureCount metric.Int64Counter
}

func newSinkMetrics(m metric.Meter) (*sinkMetrics, error) {
	sendCount, err := m.Int64Counter(
		"kafka_connector.sink.sends",
		metric.WithDescription("Messages sent through RetryPolicy by writeMessageToKafka, by outcome"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}
	failureCount, err := m.Int64Counter(
		"kafka_connector.sink.failures",
		metric.WithDescription("Sends that exhausted RetryPolicy and were nacked"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}
	return &sinkMetrics{sendCount: sendCount, failureCount: failureCount}, nil
}

func (m *sinkMetrics) recordSend(ctx context.Context, topic string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.sendCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("messaging.destination.name", topic),
		attribute.String("outcome", outcome),
	))
	if err != nil {
		m.failureCount.Add(ctx, 1, metric.WithAttributes(
			attribute.String("messaging.destination.name", topic),
		))
	}
}
