package ksink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/reactive-messaging/kafka-connector/pkg/kmessage"
)

// WriteFunc performs one send and reports its outcome once the send has
// reached the point writeCompletion demands (enqueued, or acked,
// depending on Config.WaitForWriteCompletion).
type WriteFunc func(context.Context, kmessage.Message) error

// SenderPipeline is the demand-driven mediator from spec §4.3: a single
// upstream, a single write function, an at-most-maxInflight cap, and
// downstream emission ordered by completion rather than submission.
//
// It is deliberately a plain struct with an atomic counter and a channel,
// not a class hierarchy, per spec §9.
type SenderPipeline struct {
	write       WriteFunc
	maxInflight int // UnboundedInflight when uncapped

	tokens chan struct{} // nil when uncapped
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
}

// NewSenderPipeline constructs a pipeline bound to write, with the given
// cap. A maxInflight <= 0 is treated as UnboundedInflight.
func NewSenderPipeline(write WriteFunc, maxInflight int) *SenderPipeline {
	p := &SenderPipeline{write: write}
	if maxInflight <= 0 {
		p.maxInflight = UnboundedInflight
	} else {
		p.maxInflight = maxInflight
		p.tokens = make(chan struct{}, maxInflight)
		for i := 0; i < maxInflight; i++ {
			p.tokens <- struct{}{}
		}
	}
	return p
}

// Run consumes upstream until it closes or ctx is canceled. Each item is
// dispatched to write as soon as a token is available (immediately, when
// uncapped); write's completion releases the token back for the next
// item, which is precisely "request one more item from upstream" in
// demand terms. Run returns once upstream is drained and every dispatched
// write has completed.
func (p *SenderPipeline) Run(ctx context.Context, upstream <-chan kmessage.Message) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.closed {
		// Cancel already ran before Run installed a cancel func; honor
		// that intent instead of starting a pipeline nothing will stop.
		p.mu.Unlock()
		cancel()
		return
	}
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case msg, ok := <-upstream:
			if !ok {
				p.wg.Wait()
				return
			}
			p.dispatch(ctx, msg)
		}
	}
}

func (p *SenderPipeline) dispatch(ctx context.Context, msg kmessage.Message) {
	if p.tokens != nil {
		select {
		case <-p.tokens:
		case <-ctx.Done():
			return
		}
	}
	p.wg.Add(1)
	atomic.AddInt32(&inflightGauge, 1)
	go func() {
		defer p.wg.Done()
		defer atomic.AddInt32(&inflightGauge, -1)
		// write is responsible for its own ack/nack and for not
		// panicking; a failed send is a normal, expected outcome here,
		// not a pipeline failure, per spec §4.3's "failures do not
		// terminate the pipeline".
		_ = p.write(ctx, msg)
		if p.tokens != nil {
			select {
			case p.tokens <- struct{}{}:
			default:
			}
		}
	}()
}

// Cancel stops Run from accepting further upstream items. Sends already
// dispatched continue to completion and are not waited on further by
// Cancel itself; call Close (via KafkaSink.Close) to wait them out.
func (p *SenderPipeline) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
}

// Wait blocks until every dispatched send has completed.
func (p *SenderPipeline) Wait() {
	p.wg.Wait()
}

// inflightGauge is a process-wide count of in-flight sends across every
// SenderPipeline, exposed for tests asserting the maxInflight invariant
// from spec §8. It is not a public metric; KafkaSink does not read it.
var inflightGauge int32
