package ksink

import (
	"encoding/json"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
)

const ceHeaderPrefix = "ce_"

// ceEnabled reports whether CloudEvent framing applies to msg, per spec
// §4.2: CE mode is on, and either the message carries CloudEventMetadata
// or the mandatory type/source attributes are configured.
func ceEnabled(cfg Config, ce *kmessage.CloudEventMetadata) bool {
	if !cfg.CloudEvents {
		return false
	}
	return ce != nil || (cfg.CloudEventsType != "" && cfg.CloudEventsSource != "")
}

// validateCloudEventsConfig is the construction-time check from spec
// §4.2: structured mode requires a string value codec.
func validateCloudEventsConfig(cfg Config) error {
	if cfg.CloudEvents && cfg.CloudEventsMode == CloudEventsModeStructured && !cfg.StringValueCodec {
		return fmt.Errorf("%w: cloud-events-mode=structured requires a string value codec", ErrConfig)
	}
	return nil
}

func resolveCloudEvent(cfg Config, ce *kmessage.CloudEventMetadata) cloudevents.Event {
	event := cloudevents.NewEvent()
	if ce != nil {
		event.SetID(ce.ID)
		event.SetSource(ce.Source)
		event.SetType(ce.Type)
		if ce.Subject != nil {
			event.SetSubject(*ce.Subject)
		}
		if ce.Time != nil {
			event.SetTime(*ce.Time)
		}
		if ce.DataContentType != nil {
			event.SetDataContentType(*ce.DataContentType)
		}
		if ce.DataSchema != nil {
			event.SetDataSchema(*ce.DataSchema)
		}
		for k, v := range ce.Extensions {
			event.SetExtension(k, v)
		}
		return event
	}
	// No CloudEventMetadata: promote a plain message using the
	// configured mandatory attributes, synthesizing id/time.
	event.SetID(uuid.New().String())
	event.SetSource(cfg.CloudEventsSource)
	event.SetType(cfg.CloudEventsType)
	event.SetTime(time.Now())
	return event
}

// applyCloudEvent frames rec as a CloudEvent in place, per the binary or
// structured mode selected in cfg. value is the already-serialized record
// value buildRecord produced before CloudEvents framing was applied.
func applyCloudEvent(cfg Config, rec *kgo.Record, ce *kmessage.CloudEventMetadata, value []byte, explicitKey bool) error {
	event := resolveCloudEvent(cfg, ce)

	var partitionKey *string
	if ce != nil {
		partitionKey = ce.PartitionKey
	}
	if partitionKey != nil && !explicitKey {
		rec.Key = []byte(*partitionKey)
	}

	switch cfg.CloudEventsMode {
	case CloudEventsModeBinary:
		rec.Headers = append(rec.Headers, binaryCEHeaders(event)...)
		rec.Value = value
	case CloudEventsModeStructured:
		if err := event.SetData(contentTypeOrDefault(event), value); err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		structured, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		rec.Value = structured
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: ceHeaderPrefix + "datacontenttype", Value: []byte(event.DataContentType())})
	default:
		return fmt.Errorf("%w: unknown cloud-events-mode", ErrConfig)
	}
	return nil
}

func contentTypeOrDefault(event cloudevents.Event) string {
	if ct := event.DataContentType(); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func binaryCEHeaders(event cloudevents.Event) []kgo.RecordHeader {
	hs := []kgo.RecordHeader{
		{Key: ceHeaderPrefix + "id", Value: []byte(event.ID())},
		{Key: ceHeaderPrefix + "source", Value: []byte(event.Source())},
		{Key: ceHeaderPrefix + "type", Value: []byte(event.Type())},
		{Key: ceHeaderPrefix + "specversion", Value: []byte(event.SpecVersion())},
	}
	if s := event.Subject(); s != "" {
		hs = append(hs, kgo.RecordHeader{Key: ceHeaderPrefix + "subject", Value: []byte(s)})
	}
	if !event.Time().IsZero() {
		hs = append(hs, kgo.RecordHeader{Key: ceHeaderPrefix + "time", Value: []byte(event.Time().Format(time.RFC3339Nano))})
	}
	if ds := event.DataSchema(); ds != "" {
		hs = append(hs, kgo.RecordHeader{Key: ceHeaderPrefix + "dataschema", Value: []byte(ds)})
	}
	if ct := event.DataContentType(); ct != "" {
		hs = append(hs, kgo.RecordHeader{Key: ceHeaderPrefix + "datacontenttype", Value: []byte(ct)})
	}
	for k, v := range event.Extensions() {
		hs = append(hs, kgo.RecordHeader{Key: ceHeaderPrefix + k, Value: []byte(fmt.Sprint(v))})
	}
	return hs
}
