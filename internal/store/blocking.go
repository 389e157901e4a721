package store

import "context"

// blockingPool bounds how many storage closures run concurrently off the caller's
// goroutine, mirroring the "dedicated blocking thread pool" the facade contract
// requires. A buffered channel of tokens is the idiomatic stdlib equivalent of a
// thread pool here; no queueing/worker-pool library in the example pack is better
// suited to a bound this small and this local.
var blockingTokens = make(chan struct{}, 32)

// CallBlocking runs fn on a bounded worker slot and returns its result, trampolining
// synchronous storage work off whatever goroutine called it. The caller's ctx
// cancellation is observed while waiting for a slot; once fn starts it runs to
// completion (DB round trips are tiny and not safely interruptible mid-call here).
func CallBlocking[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case blockingTokens <- struct{}{}:
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		// The slot is released only when fn returns, even if the caller stopped waiting.
		defer func() { <-blockingTokens }()
		v, err := fn()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		// fn keeps running to completion in the background; we stop waiting on it.
		return zero, ctx.Err()
	}
}
