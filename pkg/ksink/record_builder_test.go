package ksink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
)

func TestBuildRecord_DefaultsToConfigTopic(t *testing.T) {
	cfg := Config{Channel: "orders"}
	msg := kmessage.NewMessage("hello", nil, nil)

	rec, err := buildRecord(cfg, msg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "orders", rec.Topic)
	assert.Equal(t, kmessage.UnsetPartition, rec.Partition)
	assert.Equal(t, []byte("hello"), rec.Value)
}

func TestBuildRecord_OutgoingMetadataOverridesTopic(t *testing.T) {
	cfg := Config{Channel: "orders", Topic: "orders-default"}
	topic := "orders-override"
	om := kmessage.OutgoingMetadata{Topic: &topic, Partition: kmessage.UnsetPartition}
	msg := kmessage.NewMessage("hello", nil, nil)

	rec, err := buildRecord(cfg, msg, &om, nil)
	require.NoError(t, err)
	assert.Equal(t, "orders-override", rec.Topic)
}

func TestBuildRecord_ReplyTopicHeaderTakesPriority(t *testing.T) {
	cfg := Config{Channel: "orders"}
	im := kmessage.IncomingMetadata{
		Headers: kmessage.Headers{{Key: headerReplyTopic, Value: []byte("replies")}},
	}
	msg := kmessage.NewMessage("hello", nil, nil)

	rec, err := buildRecord(cfg, msg, nil, &im)
	require.NoError(t, err)
	assert.Equal(t, "replies", rec.Topic)
}

type keyedPayload struct {
	key, value string
}

func (k keyedPayload) Key() any   { return k.key }
func (k keyedPayload) Value() any { return k.value }

func TestBuildRecord_KeyedPayload(t *testing.T) {
	cfg := Config{Channel: "orders"}
	msg := kmessage.NewMessage(keyedPayload{key: "k1", value: "v1"}, nil, nil)

	rec, err := buildRecord(cfg, msg, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("k1"), rec.Key)
	assert.Equal(t, []byte("v1"), rec.Value)
}

func TestBuildRecord_PropagatesIncomingKeyWhenEnabled(t *testing.T) {
	cfg := Config{Channel: "orders", PropagateRecordKey: true}
	im := kmessage.IncomingMetadata{Key: []byte("in-key")}
	msg := kmessage.NewMessage("v1", nil, nil)

	rec, err := buildRecord(cfg, msg, nil, &im)
	require.NoError(t, err)
	assert.Equal(t, []byte("in-key"), rec.Key)
}

func TestBuildRecord_IgnoresIncomingKeyWhenPropagationDisabled(t *testing.T) {
	cfg := Config{Channel: "orders"}
	im := kmessage.IncomingMetadata{Key: []byte("in-key")}
	msg := kmessage.NewMessage("v1", nil, nil)

	rec, err := buildRecord(cfg, msg, nil, &im)
	require.NoError(t, err)
	assert.Nil(t, rec.Key)
}

func TestBuildRecord_PassthroughRecord(t *testing.T) {
	cfg := Config{Channel: "orders"}
	want := &kgo.Record{Topic: "explicit", Value: []byte("raw")}
	msg := kmessage.NewMessage(want, nil, nil)

	rec, err := buildRecord(cfg, msg, nil, nil)
	require.NoError(t, err)
	assert.Same(t, want, rec)
}

func TestBuildRecord_EmptyTopicIsInvalid(t *testing.T) {
	cfg := Config{}
	msg := kmessage.NewMessage("hello", nil, nil)

	_, err := buildRecord(cfg, msg, nil, nil)
	assert.ErrorIs(t, err, errRecordInvalid)
}

func TestBuildRecord_UnsupportedPayloadTypeIsSerializationError(t *testing.T) {
	cfg := Config{Channel: "orders"}
	msg := kmessage.NewMessage(struct{ X int }{X: 1}, nil, nil)

	_, err := buildRecord(cfg, msg, nil, nil)
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestResolveHeaders_PropagatesThenOverridesWithOutgoing(t *testing.T) {
	cfg := Config{PropagateRecordKey: true}
	im := kmessage.IncomingMetadata{Headers: kmessage.Headers{{Key: "a", Value: []byte("from-in")}}}
	om := kmessage.OutgoingMetadata{Headers: kmessage.Headers{{Key: "a", Value: []byte("from-out")}}}

	hs := resolveHeaders(cfg, &om, &im)
	v, ok := hs.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("from-out"), v)
}
