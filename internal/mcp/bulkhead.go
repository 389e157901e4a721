package mcp

import (
	"context"
	"fmt"
	"time"
)

// bulkhead is a bounded semaphore: only size concurrent calls may be in
// flight against one server; a waiter gives up after queueWait (step 2 of
// the resilience pipeline, §4.E).
type bulkhead struct {
	slots     chan struct{}
	queueWait time.Duration
}

func newBulkhead(size int, queueWait time.Duration) *bulkhead {
	if size <= 0 {
		size = DefaultBulkheadSize
	}
	if queueWait <= 0 {
		queueWait = DefaultQueueWait
	}
	return &bulkhead{slots: make(chan struct{}, size), queueWait: queueWait}
}

// acquire blocks until a slot is free, the queue-wait deadline elapses, or
// ctx is done. The returned release func must be called exactly once when a
// slot was acquired successfully.
func (b *bulkhead) acquire(ctx context.Context) (release func(), err error) {
	timer := time.NewTimer(b.queueWait)
	defer timer.Stop()

	select {
	case b.slots <- struct{}{}:
		return func() { <-b.slots }, nil
	case <-timer.C:
		return nil, fmt.Errorf("bulkhead queue wait of %s exceeded", b.queueWait)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
