package ksink

import (
	"encoding/binary"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
)

const (
	headerReplyTopic     = "kafka_replyTopic"
	headerReplyPartition = "kafka_replyPartition"
)

// buildRecord implements the resolution order of spec §4.1. om and im may
// both be nil. If msg.Payload is already a *kgo.Record it is returned
// verbatim (topic routing is skipped), per spec §4.1's last rule.
func buildRecord(cfg Config, msg kmessage.Message, om *kmessage.OutgoingMetadata, im *kmessage.IncomingMetadata) (*kgo.Record, error) {
	if rec, ok := msg.Payload.(*kgo.Record); ok {
		if err := validateRecord(rec); err != nil {
			return nil, err
		}
		return rec, nil
	}

	rec := &kgo.Record{
		Topic:     resolveTopic(cfg, om, im),
		Partition: resolvePartition(cfg, om, im),
	}

	if key, ok := resolveKey(cfg, msg, om, im); ok {
		kb, err := toBytes(key)
		if err != nil {
			return nil, fmt.Errorf("%w: record key: %v", ErrSerialization, err)
		}
		rec.Key = kb
	}

	if om != nil && om.Timestamp != nil {
		rec.Timestamp = *om.Timestamp
	}

	rec.Headers = toKgoHeaders(resolveHeaders(cfg, om, im))

	value := msg.Payload
	if kp, ok := msg.Payload.(kmessage.KeyedPayload); ok {
		value = kp.Value()
	}
	vb, err := toBytes(value)
	if err != nil {
		return nil, fmt.Errorf("%w: record value: %v", ErrSerialization, err)
	}
	rec.Value = vb

	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func resolveTopic(cfg Config, om *kmessage.OutgoingMetadata, im *kmessage.IncomingMetadata) string {
	if im != nil {
		if v, ok := im.Headers.Get(headerReplyTopic); ok {
			return string(v)
		}
	}
	if om != nil && om.Topic != nil {
		return *om.Topic
	}
	return cfg.topicDefault()
}

func resolvePartition(cfg Config, om *kmessage.OutgoingMetadata, im *kmessage.IncomingMetadata) int32 {
	if im != nil {
		if v, ok := im.Headers.Get(headerReplyPartition); ok && len(v) == 4 {
			return int32(binary.BigEndian.Uint32(v))
		}
	}
	if om != nil && om.Partition >= 0 {
		return om.Partition
	}
	return cfg.partitionDefault()
}

func resolveKey(cfg Config, msg kmessage.Message, om *kmessage.OutgoingMetadata, im *kmessage.IncomingMetadata) (any, bool) {
	if om != nil && om.Key != nil {
		return om.Key, true
	}
	if kp, ok := msg.Payload.(kmessage.KeyedPayload); ok {
		return kp.Key(), true
	}
	if cfg.PropagateRecordKey && im != nil && im.Key != nil {
		return im.Key, true
	}
	if cfg.Key != nil {
		return cfg.Key, true
	}
	return nil, false
}

func resolveHeaders(cfg Config, om *kmessage.OutgoingMetadata, im *kmessage.IncomingMetadata) kmessage.Headers {
	var propagated kmessage.Headers
	if cfg.PropagateRecordKey && im != nil {
		propagated = im.Headers
	}
	var outgoing kmessage.Headers
	if om != nil {
		outgoing = om.Headers
	}
	return propagated.Merge(outgoing, true)
}

func toKgoHeaders(hs kmessage.Headers) []kgo.RecordHeader {
	if len(hs) == 0 {
		return nil
	}
	out := make([]kgo.RecordHeader, len(hs))
	for i, h := range hs {
		out[i] = kgo.RecordHeader{Key: h.Key, Value: h.Value}
	}
	return out
}

// toBytes accepts the common shapes a payload/key can take: nil, raw
// bytes, a string, or a fmt.Stringer. Anything else is an error, which
// buildRecord wraps as ErrSerialization; callers needing custom
// serialization should encode before constructing Message.
func toBytes(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	case fmt.Stringer:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("unsupported payload type %T", v)
	}
}

// PrepareRecord resolves msg into a *kgo.Record and, if cfg enables
// CloudEvents framing, applies it — the same path writeMessageToKafka
// uses, exported so pkg/ktxn's Emitter can build records identically
// inside a transaction.
func PrepareRecord(cfg Config, msg kmessage.Message, om *kmessage.OutgoingMetadata, im *kmessage.IncomingMetadata, ce *kmessage.CloudEventMetadata) (*kgo.Record, error) {
	rec, err := buildRecord(cfg, msg, om, im)
	if err != nil {
		return nil, err
	}
	if ceEnabled(cfg, ce) {
		explicitKey := len(rec.Key) > 0
		if err := applyCloudEvent(cfg, rec, ce, rec.Value, explicitKey); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func validateRecord(rec *kgo.Record) error {
	if rec.Topic == "" {
		return fmt.Errorf("%w: topic must not be empty", errRecordInvalid)
	}
	if rec.Partition < kmessage.UnsetPartition {
		return fmt.Errorf("%w: partition must be >= 0 or unset", errRecordInvalid)
	}
	if rec.Timestamp.UnixMilli() < 0 && !rec.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp must be >= 0 or unset", errRecordInvalid)
	}
	return nil
}
