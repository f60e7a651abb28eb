package ktxn

import (
	"context"
	"sync"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
	"github.com/reactive-messaging/kafka-connector/pkg/ksink"
)

// Emitter is the only way work passed to WithTransaction/
// WithTransactionMessage may send records: every send it issues is
// tracked and joined before the transaction is allowed to commit.
type Emitter struct {
	tc *TransactionCoordinator

	mu      sync.Mutex
	pending []<-chan error
	abort   bool
}

func newEmitter(tc *TransactionCoordinator) *Emitter {
	return &Emitter{tc: tc}
}

// Send builds a record from payload using the same resolution rules as
// ksink.KafkaSink and produces it within the open transaction. The
// returned channel receives the send's outcome exactly once.
func (em *Emitter) Send(ctx context.Context, payload any) <-chan error {
	return em.SendMessage(ctx, kmessage.NewMessage(payload, nil, nil))
}

// SendMessage is Send for a caller that already holds a kmessage.Message
// (e.g. one carrying OutgoingMetadata or CloudEventMetadata).
func (em *Emitter) SendMessage(ctx context.Context, msg kmessage.Message) <-chan error {
	result := make(chan error, 1)
	// tracked carries the same outcome to join, so a caller reading result
	// does not consume the value the transaction waits on.
	tracked := make(chan error, 1)

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

	rec, err := ksink.PrepareRecord(em.tc.cfg, msg, omPtr, imPtr, cePtr)
	if err != nil {
		result <- err
		tracked <- err
		em.record(tracked)
		return result
	}

	em.tc.client.Produce(ctx, rec, func(_ *kgo.Record, err error) {
		result <- err
		tracked <- err
	})
	em.record(tracked)
	return result
}

// MarkForAbort flags the enclosing transaction to abort regardless of
// whether work itself returns an error.
func (em *Emitter) MarkForAbort() {
	em.mu.Lock()
	em.abort = true
	em.mu.Unlock()
}

// IsMarkedForAbort reports whether MarkForAbort has been called.
func (em *Emitter) IsMarkedForAbort() bool {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.abort
}

func (em *Emitter) record(ch <-chan error) {
	em.mu.Lock()
	em.pending = append(em.pending, ch)
	em.mu.Unlock()
}

// join waits on every send issued during work and aggregates their
// failures, per spec.md §4.6's "joins all recorded sends".
func (em *Emitter) join() error {
	em.mu.Lock()
	pending := append([]<-chan error(nil), em.pending...)
	em.mu.Unlock()

	var errs []error
	for _, ch := range pending {
		if err := <-ch; err != nil {
			errs = append(errs, err)
		}
	}
	return combineErrors(errs...)
}
