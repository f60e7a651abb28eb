// Package ktxn implements the consume-transform-produce transaction
// bracket from spec §4.6: one in-flight transaction at a time, with
// exactly-once offset forwarding when a Message's incoming metadata
// names the consumer it came from.
package ktxn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
	"github.com/reactive-messaging/kafka-connector/pkg/ksink"
)

type txnState int

const (
	idle txnState = iota
	inProgress
)

// ConsumerHandle is the per-consumer contract TransactionCoordinator
// needs from the inbound source to forward offsets transactionally and
// to recover after a rebalance. Binding a Message to a ConsumerHandle
// happens by channel name via ConsumerLookup; this package never reads
// from Kafka itself.
type ConsumerHandle interface {
	// GenerationID returns the consumer group generation this handle is
	// currently bound under.
	GenerationID() (int32, error)
	// CommitOffsets commits offsets transactionally. Called only while a
	// transaction is open and after the matching records have been
	// produced, mirroring sendOffsetsToTransaction.
	CommitOffsets(ctx context.Context, offsets map[kmessage.TopicPartition]int64) error
	// SeekToCommitted rewinds consumption to the last committed offsets.
	// Called after a generation mismatch aborts a transaction, so
	// reprocessing resumes from a known-good point.
	SeekToCommitted(ctx context.Context) error
}

// ConsumerLookup resolves the channel name carried in a Message's
// incoming metadata to the ConsumerHandle(s) bound to it. It is the
// external contract to the inbound source that spec.md §1 says this
// module assumes rather than implements.
type ConsumerLookup interface {
	ConsumersFor(channel string) ([]ConsumerHandle, error)
}

// TxnClient is the subset of *kgo.Client a TransactionCoordinator
// drives, kept as an interface so tests can swap in an in-memory fake
// instead of dialing a real, transactional broker.
type TxnClient interface {
	BeginTransaction() error
	EndTransaction(ctx context.Context, commit kgo.TransactionEndTry) error
	Flush(ctx context.Context) error
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// TransactionCoordinator serializes transactions against a single
// transactional kgo.Client: begin, run work against an Emitter, join
// every send issued during work, then commit or abort depending on the
// outcome.
type TransactionCoordinator struct {
	client    TxnClient
	consumers ConsumerLookup
	cfg       ksink.Config
	log       *zap.Logger
	exec      *ksink.ContextExecutor

	mu    sync.Mutex
	st    txnState
	since time.Time
}

// NewTransactionCoordinator binds client, which must have been
// constructed with a transactional id (see ksink.Config.TransactionalID),
// to consumers for offset forwarding. consumers may be nil if the
// coordinator is only ever driven through WithTransaction.
func NewTransactionCoordinator(client TxnClient, cfg ksink.Config, consumers ConsumerLookup, log *zap.Logger) *TransactionCoordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransactionCoordinator{
		client:    client,
		consumers: consumers,
		cfg:       cfg,
		log:       log,
		exec:      ksink.NewContextExecutor(4, nil),
	}
}

// InFlight reports whether a transaction is currently open and, if so,
// since when, for diagnostics.
func (tc *TransactionCoordinator) InFlight() (txnInProgress bool, since time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.st == inProgress, tc.since
}

// Close releases the coordinator's background worker pool. It does not
// close the underlying kgo.Client, which the caller still owns.
func (tc *TransactionCoordinator) Close() {
	tc.exec.Close()
}

func (tc *TransactionCoordinator) enter() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.st == inProgress {
		return ErrTransactionInProgress
	}
	tc.st = inProgress
	tc.since = time.Now()
	return nil
}

func (tc *TransactionCoordinator) leave() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.st = idle
	tc.since = time.Time{}
}

func (tc *TransactionCoordinator) resolveConsumer(channel string) (ConsumerHandle, error) {
	if tc.consumers == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoConsumerForChannel, channel)
	}
	handles, err := tc.consumers.ConsumersFor(channel)
	if err != nil {
		return nil, err
	}
	switch len(handles) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNoConsumerForChannel, channel)
	case 1:
		return handles[0], nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrMultipleConsumersForChannel, channel)
	}
}

// WithTransaction runs work inside a begin/commit-or-abort bracket, per
// spec.md §4.6: begin, run work against a fresh Emitter, join every send
// issued during work, then commit (or abort if work failed, the context
// was canceled, or the Emitter was marked for abort). Re-entry while a
// transaction is already open returns ErrTransactionInProgress without
// beginning anything.
func WithTransaction[T any](tc *TransactionCoordinator, ctx context.Context, work func(*Emitter) (T, error)) (T, error) {
	return withTransaction(tc, ctx, work, nil)
}

// WithTransactionMessage is WithTransaction plus exactly-once offset
// forwarding: it extracts the channel, generation id, and offsets from
// msg's incoming metadata (single-record or batch), and resolves the one
// bound ConsumerHandle. Per spec.md §4.6/scenario 7, the transaction
// still begins and work still runs and flushes even when the generation
// will turn out to be stale — the generation id is only (re)checked
// right before the offsets would be forwarded, immediately before
// commit, so a rebalance discovered at that point aborts a transaction
// that already did its sends rather than skipping it outright.
func WithTransactionMessage[T any](tc *TransactionCoordinator, ctx context.Context, msg kmessage.Message, work func(*Emitter) (T, error)) (T, error) {
	channel, generationID, offsets := offsetsFor(msg)

	var offsetStep func(context.Context) error
	var rebalanced ConsumerHandle
	if channel != "" {
		offsetStep = func(ctx context.Context) error {
			handle, err := tc.resolveConsumer(channel)
			if err != nil {
				return err
			}
			current, err := handle.GenerationID()
			if err != nil {
				return err
			}
			if current != generationID {
				rebalanced = handle
				return ErrRebalanced
			}
			return handle.CommitOffsets(ctx, offsets)
		}
	}

	result, err := withTransaction(tc, ctx, work, offsetStep)
	if rebalanced != nil {
		// The abort has already been issued by withTransaction; rewind the
		// consumer so reprocessing starts from its last committed offsets.
		if seekErr := rebalanced.SeekToCommitted(ctx); seekErr != nil {
			tc.log.Warn("ktxn: seek to committed failed after rebalance", zap.Error(seekErr))
		}
	}
	return result, err
}

// withTransaction is the shared begin/work/join/flush/commit-or-abort
// bracket. offsetStep, when non-nil, runs after flush and before commit;
// its own failure (including a rebalance-detected ErrRebalanced) aborts
// the transaction just like a failure from work would.
func withTransaction[T any](tc *TransactionCoordinator, ctx context.Context, work func(*Emitter) (T, error), offsetStep func(context.Context) error) (T, error) {
	var zero T
	if err := tc.enter(); err != nil {
		return zero, err
	}
	defer tc.leave()

	if err := tc.client.BeginTransaction(); err != nil {
		return zero, fmt.Errorf("ktxn: begin transaction: %w", err)
	}

	em := newEmitter(tc)
	result, workErr := runOnContext(tc.exec, ctx, func(ctx context.Context) (T, error) {
		return work(em)
	})

	joinErr := em.join()
	combined := combineErrors(workErr, joinErr, ctx.Err())

	if err := tc.client.Flush(ctx); err != nil {
		combined = combineErrors(combined, err)
	}

	if combined == nil && !em.IsMarkedForAbort() && offsetStep != nil {
		if err := offsetStep(ctx); err != nil {
			combined = combineErrors(combined, err)
		}
	}

	if combined != nil || em.IsMarkedForAbort() {
		if err := tc.client.EndTransaction(ctx, kgo.TryAbort); err != nil {
			tc.log.Warn("ktxn: abort failed", zap.Error(err))
			combined = combineErrors(combined, err)
		}
		if combined == nil {
			combined = ErrAborted
		}
		return zero, combined
	}

	if err := tc.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		tc.log.Warn("ktxn: commit failed, attempting abort", zap.Error(err))
		if abortErr := tc.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			tc.log.Warn("ktxn: abort-after-failed-commit also failed", zap.Error(abortErr))
		}
		return zero, fmt.Errorf("ktxn: commit transaction: %w", err)
	}

	return result, nil
}

func offsetsFor(msg kmessage.Message) (channel string, generationID int32, offsets map[kmessage.TopicPartition]int64) {
	if batch, ok := kmessage.MetadataOf[kmessage.IncomingBatchMetadata](msg); ok {
		return batch.Channel, batch.GenerationID, batch.Offsets
	}
	if single, ok := kmessage.MetadataOf[kmessage.IncomingMetadata](msg); ok {
		offsets := map[kmessage.TopicPartition]int64{
			{Topic: single.Topic, Partition: single.Partition}: single.Offset + 1,
		}
		return single.Channel, single.GenerationID, offsets
	}
	return "", 0, nil
}

func combineErrors(errs ...error) error {
	var result *multierror.Error
	for _, e := range errs {
		if e == nil {
			continue
		}
		result = multierror.Append(result, e)
	}
	return result.ErrorOrNil()
}

func runOnContext[T any](exec *ksink.ContextExecutor, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	out := make(chan outcome, 1)
	exec.EmitOn(ctx, func(ctx context.Context) {
		v, err := fn(ctx)
		out <- outcome{v, err}
	})
	select {
	case o := <-out:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
