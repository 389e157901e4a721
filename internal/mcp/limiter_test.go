package mcp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToBudgetThenRejects(t *testing.T) {
	l := newLimiter(3)
	require.True(t, l.allow())
	require.True(t, l.allow())
	require.True(t, l.allow())
	require.False(t, l.allow())
}
