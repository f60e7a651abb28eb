package ksink

import "errors"

// ErrConfig wraps every configuration-time failure: serializer mismatch,
// unknown CloudEvents mode, invalid broker options.
var ErrConfig = errors.New("ksink: invalid configuration")

// ErrSerialization is raised by this module, not the broker client, when
// a payload cannot be encoded for send. It is treated as non-recoverable
// per spec §3.
var ErrSerialization = errors.New("ksink: serialization failure")

// errRecordInvalid covers the ProducerRecord invariants from spec §3
// (empty topic, invalid partition, negative timestamp), checked both on
// records buildRecord resolves and on pre-built records a caller hands
// in directly.
var errRecordInvalid = errors.New("ksink: invalid record")
