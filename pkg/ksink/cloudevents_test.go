package ksink

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
)

func TestValidateCloudEventsConfig_StructuredRequiresStringCodec(t *testing.T) {
	cfg := Config{CloudEvents: true, CloudEventsMode: CloudEventsModeStructured}
	err := validateCloudEventsConfig(cfg)
	assert.ErrorIs(t, err, ErrConfig)

	cfg.StringValueCodec = true
	assert.NoError(t, validateCloudEventsConfig(cfg))
}

func TestCeEnabled(t *testing.T) {
	cfg := Config{CloudEvents: true, CloudEventsType: "order.created", CloudEventsSource: "orders-service"}
	assert.True(t, ceEnabled(cfg, nil))

	cfg.CloudEventsType = ""
	assert.False(t, ceEnabled(cfg, nil))

	ce := &kmessage.CloudEventMetadata{ID: "1", Source: "s", Type: "t"}
	assert.True(t, ceEnabled(cfg, ce))

	cfg.CloudEvents = false
	assert.False(t, ceEnabled(cfg, ce))
}

func TestApplyCloudEvent_BinaryMode(t *testing.T) {
	cfg := Config{CloudEvents: true, CloudEventsMode: CloudEventsModeBinary}
	ce := &kmessage.CloudEventMetadata{ID: "abc", Source: "src", Type: "order.created"}
	rec := &kgo.Record{Topic: "orders", Value: []byte("payload")}

	err := applyCloudEvent(cfg, rec, ce, rec.Value, false)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), rec.Value)

	headerNames := map[string]bool{}
	for _, h := range rec.Headers {
		headerNames[h.Key] = true
	}
	assert.True(t, headerNames["ce_id"])
	assert.True(t, headerNames["ce_source"])
	assert.True(t, headerNames["ce_type"])
	assert.True(t, headerNames["ce_specversion"])
}

func TestApplyCloudEvent_StructuredModeProducesJSONEnvelope(t *testing.T) {
	cfg := Config{CloudEvents: true, CloudEventsMode: CloudEventsModeStructured, StringValueCodec: true}
	ce := &kmessage.CloudEventMetadata{ID: "abc", Source: "src", Type: "order.created"}
	rec := &kgo.Record{Topic: "orders", Value: []byte(`"payload"`)}

	err := applyCloudEvent(cfg, rec, ce, rec.Value, false)
	require.NoError(t, err)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Value, &envelope))
	assert.Equal(t, "abc", envelope["id"])
	assert.Equal(t, "order.created", envelope["type"])
}

func TestApplyCloudEvent_PartitionKeyOnlyWhenNoExplicitKey(t *testing.T) {
	cfg := Config{CloudEvents: true, CloudEventsMode: CloudEventsModeBinary}
	pk := "partition-1"
	ce := &kmessage.CloudEventMetadata{ID: "abc", Source: "src", Type: "t", PartitionKey: &pk}
	rec := &kgo.Record{Topic: "orders", Key: []byte("explicit-key"), Value: []byte("v")}

	require.NoError(t, applyCloudEvent(cfg, rec, ce, rec.Value, true))
	assert.Equal(t, []byte("explicit-key"), rec.Key)
}
