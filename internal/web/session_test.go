package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireRejectsWhenInflightAtCap(t *testing.T) {
	hub := NewSessionHub(time.Minute, 2, 100, time.Minute)
	st := hub.state("bob")
	st.inflight = 2

	_, err := hub.Acquire("bob")
	require.ErrorIs(t, err, ErrTooManyInflight)
}

func TestAcquireRejectsWhenRateWindowExhausted(t *testing.T) {
	hub := NewSessionHub(time.Minute, 10, 1, time.Minute)
	st := hub.state("bob")
	st.recent = []time.Time{time.Now()}

	_, err := hub.Acquire("bob")
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestAcquireSlidesOldTimestampsOutOfWindow(t *testing.T) {
	hub := NewSessionHub(10*time.Millisecond, 10, 1, time.Minute)
	st := hub.state("bob")
	st.recent = []time.Time{time.Now().Add(-time.Hour)}

	release, err := hub.Acquire("bob")
	require.NoError(t, err)
	release()
}

func TestAcquireSerializesInvocationsForSameSession(t *testing.T) {
	hub := NewSessionHub(time.Minute, 10, 100, time.Minute)
	release1, err := hub.Acquire("bob")
	require.NoError(t, err)

	unblocked := make(chan struct{})
	go func() {
		release2, err := hub.Acquire("bob")
		require.NoError(t, err)
		close(unblocked)
		release2()
	}()

	select {
	case <-unblocked:
		t.Fatal("second Acquire should not complete before the first releases its invocation lock")
	case <-time.After(30 * time.Millisecond):
	}

	release1()
	<-unblocked
}

func TestGCEvictsOnlyIdleSessions(t *testing.T) {
	hub := NewSessionHub(time.Minute, 10, 10, time.Millisecond)
	st := hub.state("bob")
	st.lastTouch = time.Now().Add(-time.Hour)

	busy := hub.state("carol")
	busy.inflight = 1
	busy.lastTouch = time.Now().Add(-time.Hour)

	hub.GC(time.Now())

	hub.mu.Lock()
	_, idleStillPresent := hub.sessions["bob"]
	_, busyStillPresent := hub.sessions["carol"]
	hub.mu.Unlock()

	require.False(t, idleStillPresent, "idle session with no inflight work should be evicted")
	require.True(t, busyStillPresent, "session with inflight work must not be evicted")
}
