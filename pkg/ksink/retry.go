package ksink

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
)

const (
	retryInitialInterval = time.Second
	retryMaxInterval     = 20 * time.Second
	retryMultiplier      = 2.0
)

// RetryPolicy implements spec §4.4: classify the failure, then retry with
// a capped exponential backoff, bounded either by a retry count or by a
// total elapsed deadline.
type RetryPolicy struct {
	retries         int // MaxRetries for unbounded-by-count
	deliveryTimeout time.Duration
	log             *zap.Logger
}

// NewRetryPolicy returns a policy retrying up to retries times (or, when
// retries == MaxRetries, until deliveryTimeout has elapsed since the
// first attempt).
func NewRetryPolicy(retries int, deliveryTimeout time.Duration, log *zap.Logger) *RetryPolicy {
	if log == nil {
		log = zap.NewNop()
	}
	return &RetryPolicy{retries: retries, deliveryTimeout: deliveryTimeout, log: log}
}

// Send runs attempt until it succeeds, exhausts its retry budget, or
// produces a non-recoverable failure. On success it acks msg; on terminal
// failure it nacks msg with the last error and reports that error to
// registry, per spec §4.4.
func (rp *RetryPolicy) Send(ctx context.Context, msg kmessage.Message, registry *FailureRegistry, attempt func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = retryInitialInterval
	eb.MaxInterval = retryMaxInterval
	eb.Multiplier = retryMultiplier
	eb.MaxElapsedTime = 0 // we police the deadline/count ourselves below

	var bo backoff.BackOff = eb
	if rp.retries != MaxRetries {
		bo = backoff.WithMaxRetries(eb, uint64(rp.retries))
	}

	start := time.Now()
	op := func() error {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		if !recoverable(err) {
			return backoff.Permanent(err)
		}
		if rp.retries == MaxRetries && rp.deliveryTimeout > 0 && time.Since(start) >= rp.deliveryTimeout {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := backoff.Retry(op, bo); err != nil {
		rp.log.Warn("send failed permanently", zap.Error(err))
		registry.Report(err)
		_ = msg.Nack(ctx, err)
		return err
	}
	_ = msg.Ack(ctx)
	return nil
}
