package ksink

import (
	"errors"

	"github.com/twmb/franz-go/pkg/kerr"
)

// nonRecoverable is the fixed set from spec §3. Membership is by kerr
// error code, since that is how the broker client itself distinguishes
// one Kafka error from another.
var nonRecoverable = map[int16]bool{
	kerr.InvalidTopicException.Code: true,
	kerr.OffsetMetadataTooLarge.Code: true,
	kerr.RecordListTooLarge.Code:     true, // RecordBatchTooLarge
	kerr.MessageTooLarge.Code:        true, // RecordTooLarge
	kerr.UnknownServerError.Code:     true,
}

// recoverable reports whether err should be retried by RetryPolicy. A nil
// error is trivially not retried (there is nothing to retry).
func recoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSerialization) || errors.Is(err, errTransactionAborted) {
		return false
	}
	var ke *kerr.Error
	if errors.As(err, &ke) {
		return !nonRecoverable[ke.Code]
	}
	// Errors the broker client itself did not wrap as kerr.Error (e.g.
	// network timeouts, context deadlines) are the "default class":
	// retryable, per spec §3.
	return true
}

// errTransactionAborted is the sentinel spec §3 calls TransactionAborted.
// No code path in this module returns it; recoverable classifies any
// error wrapping it as non-recoverable.
var errTransactionAborted = errors.New("ksink: transaction aborted")
