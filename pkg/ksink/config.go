package ksink

import (
	"crypto/tls"
	"time"

	"github.com/twmb/franz-go/pkg/sasl"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
)

// UnboundedInflight disables the SenderPipeline's demand cap: the sender
// requests "unbounded" from upstream and leans on the broker client's own
// buffering plus DeliveryTimeout for admission control.
const UnboundedInflight = -1

// MaxRetries requests unbounded retries, bounded instead by
// DeliveryTimeout, matching the broker client's own "MAX" retry sentinel.
const MaxRetries = -1

// CloudEventsMode selects how CloudEvents are framed on the wire.
type CloudEventsMode int

const (
	// CloudEventsModeBinary writes CloudEvent attributes as ce_ prefixed
	// headers and leaves the payload as the record value.
	CloudEventsModeBinary CloudEventsMode = iota
	// CloudEventsModeStructured serializes the whole event, attributes
	// and payload together, as one JSON document in the record value.
	CloudEventsModeStructured
)

// Config collects every knob from spec §6. Fields are read once, at
// NewKafkaSink time; mutating a Config afterwards has no effect.
type Config struct {
	// Channel is the logical name this sink is bound to; it is the
	// fallback topic when Topic is unset.
	Channel string

	// Topic, Key, Partition are the sink-wide defaults consulted by
	// RecordBuilder after per-message overrides are exhausted.
	Topic     string
	Key       any
	Partition int32 // UnsetPartition (kmessage.UnsetPartition) when unused

	// Retries bounds RetryPolicy; MaxRetries means "unbounded, bounded
	// instead by DeliveryTimeout".
	Retries int

	// MaxInflightMessages caps the SenderPipeline's outstanding sends.
	// UnboundedInflight (or any value <= 0) removes the cap.
	MaxInflightMessages int

	// WaitForWriteCompletion requests the next upstream item only after
	// the broker acks the current one, rather than once it is enqueued.
	WaitForWriteCompletion bool

	// CloudEvents enables CloudEvent framing; Mode picks binary vs
	// structured. CloudEventsType/CloudEventsSource are the mandatory
	// attributes used when a message carries no CloudEventMetadata.
	CloudEvents       bool
	CloudEventsMode   CloudEventsMode
	CloudEventsType   string
	CloudEventsSource string

	// StringValueCodec must be true when CloudEventsMode is structured;
	// it mirrors the "value.serializer must be a string serializer"
	// constraint from spec §4.2, checked at construction time.
	StringValueCodec bool

	// PropagateRecordKey inherits IncomingMetadata.Key when no explicit
	// key is supplied anywhere else in the resolution order.
	PropagateRecordKey bool

	// TracingEnabled turns on the optional Instrumenter hook in
	// writeMessageToKafka.
	TracingEnabled bool

	// HealthEnabled/HealthReadinessEnabled gate IsAlive/IsReady/IsStarted.
	HealthEnabled          bool
	HealthReadinessEnabled bool

	// Broker connection settings, passed through to the underlying
	// kgo.Client.
	BootstrapServers []string
	ClientID         string
	DeliveryTimeout  time.Duration
	TransactionalID  string
	SASL             sasl.Mechanism
	TLS              *tls.Config
}

func (c Config) topicDefault() string {
	if c.Topic != "" {
		return c.Topic
	}
	return c.Channel
}

func (c Config) maxInflight() int {
	if c.MaxInflightMessages <= 0 {
		return UnboundedInflight
	}
	return c.MaxInflightMessages
}

// partitionDefault normalizes the configured default partition the same
// way maxInflight normalizes the inflight cap: Partition's Go zero value
// is indistinguishable from "not configured", so (like
// MaxInflightMessages <= 0 meaning unbounded) any Partition <= 0 is
// treated as unset rather than as an explicit partition 0. Callers that
// truly need to pin to partition 0 do so via OutgoingMetadata.Partition
// on the message, not through this sink-wide default.
func (c Config) partitionDefault() int32 {
	if c.Partition <= 0 {
		return kmessage.UnsetPartition
	}
	return c.Partition
}
