package ksink

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kzap"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
)

// instrumentationName is the tracer/meter name this package registers
// itself under: the tracer when TracingEnabled, WithTracerProvider was
// given and no Instrumenter was supplied; the meter whenever
// WithMeterProvider was given.
const instrumentationName = "github.com/reactive-messaging/kafka-connector/pkg/ksink"

// Producer is the subset of *kgo.Client this package depends on, kept as
// an interface so tests can swap in an in-memory fake instead of dialing
// a real broker.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Ping(ctx context.Context) error
	Close()
}

// HealthProbe performs broker-side readiness/liveness checks. It is an
// external collaborator per spec §1/§4.5: this module only calls it, and
// ships one default implementation (pingProbe) as a convenience.
type HealthProbe interface {
	Ready(ctx context.Context) error
	Started(ctx context.Context) error
	Close() error
}

// Instrumenter receives a trace context built from the record about to be
// sent. Like HealthProbe, this is a thin hook: this module does not set
// up tracer providers or exporters, per spec §1's OTel-details Non-goal.
type Instrumenter interface {
	Instrument(ctx context.Context, tc TraceContext, send func(context.Context) error) error
}

// TraceContext carries the attributes spec §4.5 step 3 says the sink must
// surface to the instrumenter.
type TraceContext struct {
	Topic     string
	Partition int32 // kmessage.UnsetPartition when not yet assigned
	Headers   kmessage.Headers
	GroupID   string // left empty by writeMessageToKafka; Config has no group id
	ClientID  string
}

// KafkaSink is the orchestrator from spec §4.5: it owns a kgo.Client, the
// SenderPipeline built around writeMessageToKafka, and the optional
// health/failure-reporting surface.
type KafkaSink struct {
	cfg    Config
	client Producer
	log    *zap.Logger

	pipeline *SenderPipeline
	retry    *RetryPolicy
	registry *FailureRegistry
	probe    HealthProbe
	inst     Instrumenter
	metrics  *sinkMetrics

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	extraOpts []kgo.Opt
	sinkCh    chan kmessage.Message
}

// Option customizes a KafkaSink beyond Config.
type Option func(*KafkaSink)

// WithHealthProbe injects a HealthProbe used by IsReady/IsStarted.
func WithHealthProbe(p HealthProbe) Option { return func(s *KafkaSink) { s.probe = p } }

// WithInstrumenter injects the tracing hook used when Config.TracingEnabled,
// taking precedence over WithTracerProvider.
func WithInstrumenter(i Instrumenter) Option { return func(s *KafkaSink) { s.inst = i } }

// WithTracerProvider builds the default otelInstrumenter from tp when
// Config.TracingEnabled and no Instrumenter was supplied directly.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *KafkaSink) { s.tracerProvider = tp }
}

// WithMeterProvider builds the sink's send-count/failure-count instruments from
// mp's Meter, independent of Config.TracingEnabled.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *KafkaSink) { s.meterProvider = mp }
}

// WithLogger overrides the zap.Logger used for sink diagnostics.
func WithLogger(log *zap.Logger) Option { return func(s *KafkaSink) { s.log = log } }

// WithClientOpts appends extra kgo.Opt to the client this sink builds.
func WithClientOpts(opts ...kgo.Opt) Option {
	return func(s *KafkaSink) { s.extraOpts = append(s.extraOpts, opts...) }
}

// WithProducer substitutes a Producer this sink drives directly instead
// of building a kgo.Client from Config, bypassing BootstrapServers
// validation. Intended for tests that exercise writeMessageToKafka
// against an in-memory fake rather than a real broker.
func WithProducer(p Producer) Option { return func(s *KafkaSink) { s.client = p } }

// NewKafkaSink validates cfg, builds the underlying kgo.Client (unless
// WithProducer supplied one already), and wires the SenderPipeline
// around writeMessageToKafka, per spec §4.5.
func NewKafkaSink(cfg Config, opts ...Option) (*KafkaSink, error) {
	if err := validateCloudEventsConfig(cfg); err != nil {
		return nil, err
	}

	s := &KafkaSink{cfg: cfg, log: zap.NewNop(), sinkCh: make(chan kmessage.Message)}
	for _, o := range opts {
		o(s)
	}

	if s.client == nil {
		if len(cfg.BootstrapServers) == 0 {
			return nil, fmt.Errorf("%w: bootstrap.servers must not be empty", ErrConfig)
		}

		clientOpts := []kgo.Opt{
			kgo.SeedBrokers(cfg.BootstrapServers...),
			kgo.WithLogger(kzap.New(s.log.Named("kafka"))),
		}
		if cfg.ClientID != "" {
			clientOpts = append(clientOpts, kgo.ClientID(cfg.ClientID))
		}
		if cfg.DeliveryTimeout > 0 {
			clientOpts = append(clientOpts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
		}
		if cfg.TransactionalID != "" {
			clientOpts = append(clientOpts, kgo.TransactionalID(cfg.TransactionalID))
		}
		if cfg.SASL != nil {
			clientOpts = append(clientOpts, kgo.SASL(cfg.SASL))
		}
		if cfg.TLS != nil {
			clientOpts = append(clientOpts, kgo.DialTLSConfig(cfg.TLS.Clone()))
		}
		clientOpts = append(clientOpts, s.extraOpts...)

		client, err := kgo.NewClient(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		s.client = client
	}

	if cfg.HealthEnabled {
		s.registry = NewFailureRegistry()
		if s.probe == nil {
			s.probe = newPingProbe(s.client)
		}
	}

	if cfg.TracingEnabled && s.inst == nil && s.tracerProvider != nil {
		s.inst = NewOTelInstrumenter(s.tracerProvider.Tracer(instrumentationName))
	}

	if s.meterProvider != nil {
		m, err := newSinkMetrics(s.meterProvider.Meter(instrumentationName))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		s.metrics = m
	}

	s.retry = NewRetryPolicy(cfg.Retries, cfg.DeliveryTimeout, s.log)
	s.pipeline = NewSenderPipeline(s.writeMessageToKafka, cfg.maxInflight())

	return s, nil
}

// Run drives the sink's pipeline until ctx is canceled or Sink()'s
// channel is closed. Call it in its own goroutine.
func (s *KafkaSink) Run(ctx context.Context) { s.pipeline.Run(ctx, s.sinkCh) }

// Sink returns the channel end applications publish Messages onto.
func (s *KafkaSink) Sink() chan<- kmessage.Message { return s.sinkCh }

// IsAlive reports health per spec §4.5: (healthy, ok). ok is false when
// health reporting is disabled.
func (s *KafkaSink) IsAlive() (healthy bool, ok bool) {
	if s.registry == nil {
		return false, false
	}
	return s.registry.Empty(), true
}

// IsReady delegates to the configured HealthProbe. Must not be called
// from the pipeline's own goroutine, per spec §4.5.
func (s *KafkaSink) IsReady(ctx context.Context) error {
	if !s.cfg.HealthReadinessEnabled || s.probe == nil {
		return nil
	}
	return s.probe.Ready(ctx)
}

// IsStarted delegates to the configured HealthProbe, see IsReady.
func (s *KafkaSink) IsStarted(ctx context.Context) error {
	if !s.cfg.HealthEnabled || s.probe == nil {
		return nil
	}
	return s.probe.Started(ctx)
}

// Close cancels the pipeline and closes the producer and health probe,
// swallowing and logging errors per spec §4.5's "closeQuietly".
func (s *KafkaSink) Close(ctx context.Context) error {
	s.pipeline.Cancel()
	s.pipeline.Wait()
	s.client.Close()
	if s.probe != nil {
		if err := s.probe.Close(); err != nil {
			s.log.Warn("health probe close failed", zap.Error(err))
		}
	}
	return nil
}

// writeMessageToKafka is the per-message core from spec §4.5.
func (s *KafkaSink) writeMessageToKafka(ctx context.Context, msg kmessage.Message) error {
	om, hasOM := kmessage.MetadataOf[kmessage.OutgoingMetadata](msg)
	im, hasIM := kmessage.MetadataOf[kmessage.IncomingMetadata](msg)
	ce, hasCE := kmessage.MetadataOf[kmessage.CloudEventMetadata](msg)

	var omPtr *kmessage.OutgoingMetadata
	if hasOM {
		omPtr = &om
	}
	var imPtr *kmessage.IncomingMetadata
	if hasIM {
		imPtr = &im
	}
	var cePtr *kmessage.CloudEventMetadata
	if hasCE {
		cePtr = &ce
	}

	rec, err := PrepareRecord(s.cfg, msg, omPtr, imPtr, cePtr)
	if err != nil {
		s.log.Error("failed to prepare record", zap.Error(err))
		s.registryReport(err)
		_ = msg.Nack(ctx, err)
		return err
	}

	send := func(ctx context.Context) error {
		return s.produce(ctx, rec)
	}

	if s.cfg.TracingEnabled && s.inst != nil {
		tc := TraceContext{
			Topic:     rec.Topic,
			Partition: rec.Partition,
			Headers:   fromKgoHeaders(rec.Headers),
			ClientID:  s.cfg.ClientID,
		}
		inner := send
		send = func(ctx context.Context) error {
			return s.inst.Instrument(ctx, tc, inner)
		}
	}

	err = s.retry.Send(ctx, msg, s.failureRegistry(), send)
	if s.metrics != nil {
		s.metrics.recordSend(ctx, rec.Topic, err)
	}
	return err
}

// produce sends rec via the broker client, waiting for the broker ack
// when Config.WaitForWriteCompletion, otherwise returning once enqueued
// and awaiting the broker ack in the background: demand is not gated on
// it, but a late broker-side failure still reaches FailureRegistry so
// IsAlive reflects it, per spec §4.3/§4.5.
func (s *KafkaSink) produce(ctx context.Context, rec *kgo.Record) error {
	result := make(chan error, 1)
	s.client.Produce(ctx, rec, func(r *kgo.Record, err error) {
		result <- err
	})
	if !s.cfg.WaitForWriteCompletion {
		go s.awaitBackgroundAck(rec, result)
		return nil
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitBackgroundAck watches a fire-and-forget send's broker ack. The
// message itself was already acked optimistically by RetryPolicy, so a
// late failure here cannot be retried or turned into a Nack; it is
// surfaced the only way an already-acked send can be: as a health-report
// to FailureRegistry plus a log line.
func (s *KafkaSink) awaitBackgroundAck(rec *kgo.Record, result <-chan error) {
	if err := <-result; err != nil {
		s.log.Warn("background broker ack failed", zap.String("topic", rec.Topic), zap.Error(err))
		s.registryReport(err)
	}
}

func (s *KafkaSink) failureRegistry() *FailureRegistry {
	if s.registry != nil {
		return s.registry
	}
	return discardRegistry
}

func (s *KafkaSink) registryReport(err error) {
	if s.registry != nil {
		s.registry.Report(err)
	}
}

// discardRegistry absorbs reports when health tracking is disabled, so
// RetryPolicy.Send never needs a nil check.
var discardRegistry = NewFailureRegistry()

func fromKgoHeaders(hs []kgo.RecordHeader) kmessage.Headers {
	if len(hs) == 0 {
		return nil
	}
	out := make(kmessage.Headers, len(hs))
	for i, h := range hs {
		out[i] = kmessage.Header{Key: h.Key, Value: h.Value}
	}
	return out
}
