package channels

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitTextBreaksAtNewlineWithinWindow(t *testing.T) {
	require.Equal(t, []string{"AAAA", "BBBB"}, SplitText("AAAA\nBBBB", 5))
}

func TestSplitTextHardSplitsWhenNoNewlineInWindow(t *testing.T) {
	require.Equal(t, []string{"ABCDE", " FGHI", "J"}, SplitText("ABCDE FGHIJ", 5))
}

func TestSplitTextReturnsWholeStringUnderLimit(t *testing.T) {
	require.Equal(t, []string{"short"}, SplitText("short", 100))
}

func TestSplitTextEmptyStringReturnsNoChunks(t *testing.T) {
	require.Nil(t, SplitText("", 10))
}

func TestEnforceChannelPolicyDeniesWebCrossChat(t *testing.T) {
	err := EnforceChannelPolicy("web", "100", "200")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Permission denied")
}

func TestEnforceChannelPolicyAllowsWebOwnChat(t *testing.T) {
	require.NoError(t, EnforceChannelPolicy("web", "100", "100"))
}

func TestEnforceChannelPolicyAllowsNonWebCrossChat(t *testing.T) {
	require.NoError(t, EnforceChannelPolicy("telegram", "100", "200"))
}
