package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeNextRunEveryFiveMinutesUTC(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	next, err := ComputeNextRun("0 */5 * * * *", "UTC", after)

	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC), next)
}

func TestComputeNextRunRejectsInvalidExpression(t *testing.T) {
	_, err := ComputeNextRun("not a cron", "UTC", time.Now())
	require.Error(t, err)
}

func TestComputeNextRunRejectsInvalidTimezone(t *testing.T) {
	_, err := ComputeNextRun("0 */5 * * * *", "Not/AZone", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
}
