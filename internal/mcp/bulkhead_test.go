package mcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBulkheadRejectsBeyondCapacityAfterQueueWait(t *testing.T) {
	b := newBulkhead(1, 30*time.Millisecond)

	release, err := b.acquire(context.Background())
	require.NoError(t, err)

	_, err = b.acquire(context.Background())
	require.Error(t, err)

	release()
	release2, err := b.acquire(context.Background())
	require.NoError(t, err)
	release2()
}
