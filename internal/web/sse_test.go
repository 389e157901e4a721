package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestReplayTruncationReportsOldestEventID exercises the exact boundary
// case: a run with history_limit=2 has already emitted events 1..=5 (so
// only 4 and 5 remain in the ring) before a subscriber connects claiming
// last_event_id=1.
func TestReplayTruncationReportsOldestEventID(t *testing.T) {
	rn := newRun("sess-1", 2)
	for i := 1; i <= 5; i++ {
		rn.publish("status", map[string]any{"n": i})
	}

	meta, backlog, live := rn.subscribe(1)
	defer func() {
		if live != nil {
			rn.unsubscribe(live)
		}
	}()

	require.True(t, meta.ReplayTruncated)
	require.EqualValues(t, 4, meta.OldestEventID)
	require.EqualValues(t, 1, meta.RequestedLastEventID)

	require.Len(t, backlog, 2)
	require.EqualValues(t, 4, backlog[0].ID)
	require.EqualValues(t, 5, backlog[1].ID)
}

func TestSubscribeWithoutTruncationWhenCaughtUp(t *testing.T) {
	rn := newRun("sess-2", 10)
	rn.publish("status", nil)
	rn.publish("delta", nil)

	meta, backlog, live := rn.subscribe(2)
	defer rn.unsubscribe(live)

	require.False(t, meta.ReplayTruncated)
	require.Empty(t, backlog)
	require.NotNil(t, live)
}

func TestSubscribeAfterTerminationReturnsNilChannel(t *testing.T) {
	rn := newRun("sess-3", 10)
	rn.publish("status", nil)
	rn.publish("done", map[string]any{"response": "ok"})

	meta, backlog, live := rn.subscribe(0)

	require.False(t, meta.ReplayTruncated)
	require.Len(t, backlog, 2)
	require.Nil(t, live)
}

func TestPublishAssignsMonotonicIDs(t *testing.T) {
	rn := newRun("sess-4", 10)
	a := rn.publish("status", nil)
	b := rn.publish("delta", nil)
	c := rn.publish("done", nil)

	require.EqualValues(t, 1, a.ID)
	require.EqualValues(t, 2, b.ID)
	require.EqualValues(t, 3, c.ID)

	done, lastID := rn.status()
	require.True(t, done)
	require.EqualValues(t, 3, lastID)
}

func TestRunHubGCDropsExpiredRuns(t *testing.T) {
	hub := NewRunHub(10, 0)
	rn := hub.Create("run-1", "sess-5")
	rn.publish("done", nil)

	hub.GC(rn.terminalAt.Add(time.Nanosecond))

	_, ok := hub.Get("run-1")
	require.False(t, ok)
}
