package ktxn

import "errors"

// ErrTransactionInProgress is returned by WithTransaction/
// WithTransactionMessage when the coordinator is re-entered while a
// transaction is already open.
var ErrTransactionInProgress = errors.New("ktxn: transaction already in progress")

// ErrRebalanced is returned (and the transaction aborted) when a
// message's generation id no longer matches the bound consumer's
// current one, meaning a rebalance moved the partition out from under
// the transaction.
var ErrRebalanced = errors.New("ktxn: consumer generation changed, transaction aborted")

// ErrNoConsumerForChannel is returned when a message names a channel
// with no bound ConsumerHandle.
var ErrNoConsumerForChannel = errors.New("ktxn: no consumer bound for channel")

// ErrMultipleConsumersForChannel is returned when a channel resolves to
// more than one ConsumerHandle, which offset-forwarding cannot
// disambiguate.
var ErrMultipleConsumersForChannel = errors.New("ktxn: multiple consumers bound for channel")

// ErrAborted is returned by WithTransaction/WithTransactionMessage when
// the transaction was aborted via Emitter.MarkForAbort without work
// itself returning an error.
var ErrAborted = errors.New("ktxn: transaction aborted")
