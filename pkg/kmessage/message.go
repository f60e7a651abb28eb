// Package kmessage defines the message and metadata shapes that flow
// between an application and the sink/transaction layers in pkg/ksink and
// pkg/ktxn. It owns no broker connection of its own.
package kmessage

import (
	"context"
	"sync"
)

// UnsetPartition is the sentinel used throughout this module wherever a
// partition is optional: -1 means "no partition configured".
const UnsetPartition int32 = -1

// ackHandles is the mutable part of a Message, held behind a pointer so
// that copying a Message (WithMetadata returns a copy, and Message is
// passed by value through the pipeline) never duplicates the
// exactly-once ack/nack guard.
type ackHandles struct {
	mu   sync.Mutex
	done bool
	ack  func(context.Context) error
	nack func(context.Context, error) error
}

// Message is the unit the sink consumes. Exactly one of Ack or Nack must
// be observed per message; the zero value is not usable, use NewMessage.
type Message struct {
	Payload  any
	metadata map[any]any
	handles  *ackHandles
}

// NewMessage builds a Message with the given payload and ack/nack
// handles. Either handle may be nil, in which case the corresponding call
// is a no-op (useful for synthetic messages built inside this module,
// e.g. by TransactionCoordinator.Emitter.Send).
func NewMessage(payload any, ack func(context.Context) error, nack func(context.Context, error) error) Message {
	return Message{Payload: payload, handles: &ackHandles{ack: ack, nack: nack}}
}

// Ack acknowledges the message. Calling Ack or Nack more than once on the
// same Message (including copies sharing its handles, e.g. via
// WithMetadata) is a no-op after the first call.
func (m Message) Ack(ctx context.Context) error {
	if m.handles == nil {
		return nil
	}
	m.handles.mu.Lock()
	defer m.handles.mu.Unlock()
	if m.handles.done {
		return nil
	}
	m.handles.done = true
	if m.handles.ack == nil {
		return nil
	}
	return m.handles.ack(ctx)
}

// Nack negatively acknowledges the message with cause. See Ack for the
// once-only semantics shared between the two.
func (m Message) Nack(ctx context.Context, cause error) error {
	if m.handles == nil {
		return nil
	}
	m.handles.mu.Lock()
	defer m.handles.mu.Unlock()
	if m.handles.done {
		return nil
	}
	m.handles.done = true
	if m.handles.nack == nil {
		return nil
	}
	return m.handles.nack(ctx, cause)
}

// WithMetadata returns a copy of m with value attached under its own
// type. The copy shares m's ack/nack handles.
func (m Message) WithMetadata(value any) Message {
	cp := m
	cp.metadata = make(map[any]any, len(m.metadata)+1)
	for k, v := range m.metadata {
		cp.metadata[k] = v
	}
	cp.metadata[typeKeyOf(value)] = value
	return cp
}

// MetadataOf returns the metadata value of type T attached to m, if any.
func MetadataOf[T any](m Message) (T, bool) {
	var zero T
	if m.metadata == nil {
		return zero, false
	}
	v, ok := m.metadata[typeKeyOf(zero)]
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}
