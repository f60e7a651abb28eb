package kmessage

import "time"

// Header is a single record header: a name paired with raw bytes.
type Header struct {
	Key   string
	Value []byte
}

// Headers is an ordered set of Header, matching kgo.RecordHeader's shape
// closely enough to convert without a lookup table.
type Headers []Header

// Get returns the value of the first header named key.
func (hs Headers) Get(key string) ([]byte, bool) {
	for _, h := range hs {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

// Merge returns the union of hs and other. When override is true, entries
// in other replace entries in hs sharing the same key; otherwise both are
// kept, with hs ordered first.
func (hs Headers) Merge(other Headers, override bool) Headers {
	if len(other) == 0 {
		return hs
	}
	if !override {
		out := make(Headers, 0, len(hs)+len(other))
		out = append(out, hs...)
		out = append(out, other...)
		return out
	}
	seen := make(map[string]bool, len(other))
	for _, h := range other {
		seen[h.Key] = true
	}
	out := make(Headers, 0, len(hs)+len(other))
	for _, h := range hs {
		if !seen[h.Key] {
			out = append(out, h)
		}
	}
	out = append(out, other...)
	return out
}

// OutgoingMetadata carries per-message routing overrides supplied by the
// application when it publishes a Message.
type OutgoingMetadata struct {
	Topic     *string
	Partition int32 // UnsetPartition when not set
	Key       any
	Timestamp *time.Time
	Headers   Headers
}

// IncomingMetadata describes the record a Message was built from when it
// originated as a consumed record (used for reply-routing headers and for
// exactly-once offset commits).
type IncomingMetadata struct {
	Channel      string
	Topic        string
	Partition    int32
	Offset       int64
	GenerationID int32
	Key          []byte
	Headers      Headers
}

// IncomingBatchMetadata is the batch-shaped counterpart to
// IncomingMetadata: one channel, one generation id, many offsets to
// commit, one per partition, each the offset one past the last record
// consumed on that partition.
type IncomingBatchMetadata struct {
	Channel      string
	GenerationID int32
	Offsets      map[TopicPartition]int64
}

// TopicPartition identifies a single partition of a topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

// CloudEventMetadata carries the recognized CloudEvents attributes for a
// message that should be framed as a CloudEvent on send.
type CloudEventMetadata struct {
	ID              string
	Source          string
	Type            string
	Subject         *string
	Time            *time.Time
	DataContentType *string
	DataSchema      *string
	PartitionKey    *string
	Extensions      map[string]any
}

// KeyedPayload is implemented by application payload types that carry
// their own key, e.g. a Record{Key, Value} pair. RecordBuilder consults
// this before falling back to configured/propagated keys.
type KeyedPayload interface {
	Key() any
	Value() any
}
