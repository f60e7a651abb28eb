package ksink

import "context"

// ContextExecutor arranges for a continuation to run with affinity to the
// context a caller entered on, per spec §4.8/§9. The broker client's
// callbacks arrive on its own goroutines; EmitOn re-homes them.
//
// This module's default implementation dispatches onto a bounded worker
// pool rather than requiring an event-loop runtime: see DESIGN.md for why
// that is the right tradeoff for a goroutine-based connector instead of
// the original's event-loop one.
type ContextExecutor struct {
	runOnLoop func(func())
	workers   chan func()
	done      chan struct{}
}

// NewContextExecutor starts a ContextExecutor with the given worker
// concurrency. runOnLoop, when non-nil, is used instead of the worker
// pool — the caller supplies it when it is itself running an event loop
// and wants continuations scheduled back onto that loop.
func NewContextExecutor(workers int, runOnLoop func(func())) *ContextExecutor {
	if workers <= 0 {
		workers = 1
	}
	ce := &ContextExecutor{
		runOnLoop: runOnLoop,
		workers:   make(chan func(), 256),
		done:      make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go ce.loop()
	}
	return ce
}

func (ce *ContextExecutor) loop() {
	for {
		select {
		case fn := <-ce.workers:
			fn()
		case <-ce.done:
			return
		}
	}
}

// EmitOn schedules fn to run with the stickiness EmitOn promises: on the
// captured event loop if one was supplied, else on the worker pool. On
// the worker-pool path fn is dropped (never scheduled) once the executor
// has been closed; ctx is not consulted, so a canceled ctx does not
// itself stop fn from running, matching "outstanding sends may still
// complete".
func (ce *ContextExecutor) EmitOn(ctx context.Context, fn func(context.Context)) {
	wrapped := func() { fn(ctx) }
	if ce.runOnLoop != nil {
		ce.runOnLoop(wrapped)
		return
	}
	select {
	case <-ce.done:
		return
	default:
	}
	select {
	case ce.workers <- wrapped:
	case <-ce.done:
	}
}

// Close stops the worker pool. A fn already running finishes; queued fns
// not yet picked up by a worker may be dropped, and EmitOn calls after
// Close are dropped.
func (ce *ContextExecutor) Close() {
	select {
	case <-ce.done:
	default:
		close(ce.done)
	}
}
