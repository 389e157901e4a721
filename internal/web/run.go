// Package web implements the SSE run orchestrator (spec.md §4.I): the HTTP
// route table, per-run event history with replay, and per-session
// concurrency/rate limiting that sits in front of the agent engine.
package web

import (
	"sync"
	"time"
)

// RunEvent is one numbered step of a run's output stream. IDs are assigned
// in publish order starting at 1 and never reused.
type RunEvent struct {
	ID      uint64
	Kind    string
	Payload map[string]any
}

// replayMeta is the synthetic prelude event every /api/stream subscription
// emits before any retained event, so a resuming client knows whether it
// missed history.
type replayMeta struct {
	ReplayTruncated      bool   `json:"replay_truncated"`
	OldestEventID        uint64 `json:"oldest_event_id"`
	RequestedLastEventID uint64 `json:"requested_last_event_id"`
}

// run is one RunChannel: a bounded ring of retained events plus the set of
// live subscribers currently streaming it.
type run struct {
	mu           sync.Mutex
	sessionKey   string
	historyLimit int
	nextID       uint64
	ring         []RunEvent
	subs         map[chan RunEvent]struct{}
	done         bool
	terminalAt   time.Time
}

func newRun(sessionKey string, historyLimit int) *run {
	if historyLimit < 1 {
		historyLimit = 1
	}
	return &run{sessionKey: sessionKey, historyLimit: historyLimit, subs: make(map[chan RunEvent]struct{})}
}

// publish assigns the next event ID, retains the event in the ring (dropping
// the oldest once historyLimit is exceeded), and fans it out to every
// current subscriber without blocking on a slow one.
func (r *run) publish(kind string, payload map[string]any) RunEvent {
	r.mu.Lock()
	r.nextID++
	ev := RunEvent{ID: r.nextID, Kind: kind, Payload: payload}
	r.ring = append(r.ring, ev)
	if len(r.ring) > r.historyLimit {
		r.ring = r.ring[len(r.ring)-r.historyLimit:]
	}
	if kind == "done" || kind == "error" {
		r.done = true
		r.terminalAt = time.Now()
	}
	subs := make([]chan RunEvent, 0, len(r.subs))
	for ch := range r.subs {
		subs = append(subs, ch)
	}
	r.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default: // slow subscriber misses a live event; replay on reconnect covers it
		}
	}
	return ev
}

// subscribe computes the replay prelude and backlog atomically with
// registering ch for live events, so no event is double-delivered or
// silently dropped between the snapshot and the subscription taking effect.
// If the run has already terminated, no channel is registered — the caller
// gets the backlog only.
func (r *run) subscribe(lastEventID uint64) (replayMeta, []RunEvent, chan RunEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest uint64
	if len(r.ring) > 0 {
		oldest = r.ring[0].ID
	}
	meta := replayMeta{
		OldestEventID:        oldest,
		RequestedLastEventID: lastEventID,
		ReplayTruncated:      lastEventID > 0 && oldest > 0 && lastEventID < oldest,
	}

	backlog := make([]RunEvent, 0, len(r.ring))
	for _, ev := range r.ring {
		if ev.ID > lastEventID {
			backlog = append(backlog, ev)
		}
	}

	if r.done {
		return meta, backlog, nil
	}

	ch := make(chan RunEvent, 32)
	r.subs[ch] = struct{}{}
	return meta, backlog, ch
}

func (r *run) unsubscribe(ch chan RunEvent) {
	r.mu.Lock()
	delete(r.subs, ch)
	r.mu.Unlock()
}

// status reports whether the run has reached a terminal event and the id of
// its most recent event, for /api/run_status.
func (r *run) status() (done bool, lastEventID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ring) > 0 {
		lastEventID = r.ring[len(r.ring)-1].ID
	}
	return r.done, lastEventID
}

// RunHub owns every in-flight or recently-terminated run, keyed by run id,
// plus a session_key → most-recent-run-id index so out-of-band bot messages
// (delivered through channels.WebPublisher) can reach an open stream.
type RunHub struct {
	mu           sync.Mutex
	runs         map[string]*run
	bySession    map[string]string
	historyLimit int
	idleGC       time.Duration
}

func NewRunHub(historyLimit int, idleGC time.Duration) *RunHub {
	return &RunHub{
		runs:         make(map[string]*run),
		bySession:    make(map[string]string),
		historyLimit: historyLimit,
		idleGC:       idleGC,
	}
}

// Create starts a new run for sessionKey and returns its id.
func (h *RunHub) Create(runID, sessionKey string) *run {
	r := newRun(sessionKey, h.historyLimit)
	h.mu.Lock()
	h.runs[runID] = r
	h.bySession[sessionKey] = runID
	h.mu.Unlock()
	return r
}

func (h *RunHub) Get(runID string) (*run, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.runs[runID]
	return r, ok
}

// PublishToSession pushes a bot_message event onto sessionKey's most recent
// run, if one is still open. Returns false when there is nothing listening —
// the message was already persisted by DeliverAndStoreBotMessage, so this is
// best-effort live delivery, not the only delivery path.
func (h *RunHub) PublishToSession(sessionKey, text string) bool {
	h.mu.Lock()
	runID, ok := h.bySession[sessionKey]
	var r *run
	if ok {
		r = h.runs[runID]
	}
	h.mu.Unlock()
	if r == nil {
		return false
	}
	if done, _ := r.status(); done {
		return false
	}
	r.publish("bot_message", map[string]any{"text": text})
	return true
}

// GC drops runs that reached a terminal event more than idleGC ago (§4.I:
// "channels are garbage-collected 300s after terminal event").
func (h *RunHub) GC(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, r := range h.runs {
		r.mu.Lock()
		expired := r.done && now.Sub(r.terminalAt) > h.idleGC
		r.mu.Unlock()
		if expired {
			delete(h.runs, id)
			for key, rid := range h.bySession {
				if rid == id {
					delete(h.bySession, key)
				}
			}
		}
	}
}
