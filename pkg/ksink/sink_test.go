package ksink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
)

// fakeProducer is an in-memory Producer used in place of a real
// kgo.Client, grounded in the corpus's habit of wrapping *kgo.Client
// behind a small interface for testability (e.g. the apm-queue producer
// and the kgo-verifier worker harness).
type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	fail    error
	pingErr error
	closed  bool
}

func (f *fakeProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	f.mu.Lock()
	f.records = append(f.records, r)
	err := f.fail
	f.mu.Unlock()
	promise(r, err)
}

func (f *fakeProducer) Ping(context.Context) error { return f.pingErr }
func (f *fakeProducer) Close()                     { f.closed = true }

func (f *fakeProducer) sent() []*kgo.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*kgo.Record(nil), f.records...)
}

func TestNewKafkaSink_RejectsEmptyBootstrapServers(t *testing.T) {
	_, err := NewKafkaSink(Config{Channel: "orders"})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewKafkaSink_RejectsStructuredCEWithoutStringCodec(t *testing.T) {
	_, err := NewKafkaSink(Config{
		Channel:          "orders",
		BootstrapServers: []string{"localhost:9092"},
		CloudEvents:      true,
		CloudEventsMode:  CloudEventsModeStructured,
	})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewKafkaSink_BuildsWithValidConfig(t *testing.T) {
	s, err := NewKafkaSink(Config{
		Channel:          "orders",
		BootstrapServers: []string{"localhost:9092"},
	})
	assert.NoError(t, err)
	if s != nil {
		assert.NoError(t, s.Close(nil))
	}
}

func TestKafkaSink_WriteMessageToKafka_SuccessAcksAndSends(t *testing.T) {
	fp := &fakeProducer{}
	s, err := NewKafkaSink(Config{Channel: "orders", WaitForWriteCompletion: true}, WithProducer(fp))
	require.NoError(t, err)

	acked := false
	msg := kmessage.NewMessage("hello", func(context.Context) error { acked = true; return nil }, nil)

	require.NoError(t, s.writeMessageToKafka(context.Background(), msg))
	assert.True(t, acked)
	require.Len(t, fp.sent(), 1)
	assert.Equal(t, "orders", fp.sent()[0].Topic)
}

func TestKafkaSink_WriteMessageToKafka_FailureNacksAndReportsHealth(t *testing.T) {
	fp := &fakeProducer{fail: errors.New("broker unavailable")}
	s, err := NewKafkaSink(Config{
		Channel:                "orders",
		WaitForWriteCompletion: true,
		HealthEnabled:          true,
		Retries:                0,
	}, WithProducer(fp))
	require.NoError(t, err)

	var nackCause error
	msg := kmessage.NewMessage("hello", nil, func(_ context.Context, cause error) error {
		nackCause = cause
		return nil
	})

	err = s.writeMessageToKafka(context.Background(), msg)
	assert.Error(t, err)
	assert.Error(t, nackCause)

	healthy, ok := s.IsAlive()
	assert.True(t, ok)
	assert.False(t, healthy)
}

func TestKafkaSink_WriteMessageToKafka_AsyncModeAwaitsBackgroundAckOnFailure(t *testing.T) {
	fp := &fakeProducer{fail: errors.New("broker unavailable")}
	s, err := NewKafkaSink(Config{
		Channel:                "orders",
		WaitForWriteCompletion: false,
		HealthEnabled:          true,
	}, WithProducer(fp))
	require.NoError(t, err)

	acked := false
	msg := kmessage.NewMessage("hello", func(context.Context) error { acked = true; return nil }, nil)

	require.NoError(t, s.writeMessageToKafka(context.Background(), msg))
	assert.True(t, acked, "async mode acks optimistically on enqueue")

	require.Eventually(t, func() bool {
		healthy, ok := s.IsAlive()
		return ok && !healthy
	}, time.Second, time.Millisecond, "background ack failure should reach FailureRegistry")
}

func TestNewKafkaSink_WithTracerProviderBuildsDefaultInstrumenter(t *testing.T) {
	fp := &fakeProducer{}
	s, err := NewKafkaSink(Config{
		Channel:        "orders",
		TracingEnabled: true,
	}, WithProducer(fp), WithTracerProvider(tracenoop.NewTracerProvider()))
	require.NoError(t, err)
	require.NotNil(t, s.inst)

	msg := kmessage.NewMessage("hello", nil, nil)
	require.NoError(t, s.writeMessageToKafka(context.Background(), msg))
}

func TestNewKafkaSink_WithMeterProviderRecordsSendOutcome(t *testing.T) {
	fp := &fakeProducer{}
	s, err := NewKafkaSink(Config{Channel: "orders"}, WithProducer(fp), WithMeterProvider(noop.NewMeterProvider()))
	require.NoError(t, err)
	require.NotNil(t, s.metrics)

	msg := kmessage.NewMessage("hello", nil, nil)
	require.NoError(t, s.writeMessageToKafka(context.Background(), msg))
}

func TestKafkaSink_WriteMessageToKafka_InvalidRecordNacksWithoutSending(t *testing.T) {
	fp := &fakeProducer{}
	s, err := NewKafkaSink(Config{Channel: ""}, WithProducer(fp))
	require.NoError(t, err)

	var nackCause error
	msg := kmessage.NewMessage("hello", nil, func(_ context.Context, cause error) error {
		nackCause = cause
		return nil
	})

	err = s.writeMessageToKafka(context.Background(), msg)
	assert.Error(t, err)
	assert.Error(t, nackCause)
	assert.Empty(t, fp.sent())
}
