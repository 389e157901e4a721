package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestBreakerOpensClosesPerBoundaryScenario implements spec.md §8 Boundary
// Scenario 6 verbatim: threshold=2, cooldown=1s; two consecutive failures
// open the breaker; a call during the cooldown is rejected; after 1.1s a
// half-open trial succeeds and the breaker closes with its failure count
// reset.
func TestBreakerOpensClosesPerBoundaryScenario(t *testing.T) {
	b := newBreaker(2, time.Second)

	require.NoError(t, b.allowRequest())
	b.recordFailure()
	require.NoError(t, b.allowRequest())
	b.recordFailure()

	require.Error(t, b.allowRequest())

	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, b.allowRequest())
	b.recordSuccess()

	require.Equal(t, BreakerClosed, b.state)
	require.Equal(t, 0, b.failures)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker(1, 50*time.Millisecond)

	require.NoError(t, b.allowRequest())
	b.recordFailure()
	require.Error(t, b.allowRequest())

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, b.allowRequest())
	b.recordFailure()

	require.Equal(t, BreakerOpen, b.state)
}
