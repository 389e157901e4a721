package web

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrTooManyInflight is the 429 cause when a session already has
	// web_max_inflight_per_session requests in flight.
	ErrTooManyInflight = errors.New("too many concurrent requests for session")
	// ErrRateLimited is the 429 cause when a session has exceeded
	// web_max_requests_per_window sends in the rate window.
	ErrRateLimited = errors.New("rate limit exceeded for session")
)

// sessionState tracks one session_key's quota bookkeeping (bk) separately
// from its invocation lock (invoke), so a quota check never blocks behind a
// concurrently-running engine call for the same session.
type sessionState struct {
	bk        sync.Mutex
	invoke    sync.Mutex
	inflight  int
	recent    []time.Time
	lastTouch time.Time
}

// SessionHub enforces §4.I's per-session quotas and the async mutex that
// serializes send/send_stream for one session_key.
type SessionHub struct {
	mu           sync.Mutex
	sessions     map[string]*sessionState
	rateWindow   time.Duration
	maxInflight  int
	maxPerWindow int
	idleTTL      time.Duration
}

func NewSessionHub(rateWindow time.Duration, maxInflight, maxPerWindow int, idleTTL time.Duration) *SessionHub {
	return &SessionHub{
		sessions:     make(map[string]*sessionState),
		rateWindow:   rateWindow,
		maxInflight:  maxInflight,
		maxPerWindow: maxPerWindow,
		idleTTL:      idleTTL,
	}
}

func (h *SessionHub) state(sessionKey string) *sessionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionKey]
	if !ok {
		s = &sessionState{}
		h.sessions[sessionKey] = s
	}
	return s
}

// Acquire applies the inflight/rate quota check, then blocks on the
// session's invocation lock. On success it returns a release func the
// caller must defer; on a quota failure it returns one of ErrTooManyInflight
// or ErrRateLimited and never touches the invocation lock.
func (h *SessionHub) Acquire(sessionKey string) (release func(), err error) {
	s := h.state(sessionKey)

	s.bk.Lock()
	now := time.Now()
	s.lastTouch = now
	cutoff := now.Add(-h.rateWindow)
	kept := s.recent[:0:0]
	for _, t := range s.recent {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.recent = kept

	if s.inflight >= h.maxInflight {
		s.bk.Unlock()
		return nil, ErrTooManyInflight
	}
	if len(s.recent) >= h.maxPerWindow {
		s.bk.Unlock()
		return nil, ErrRateLimited
	}
	s.inflight++
	s.recent = append(s.recent, now)
	s.bk.Unlock()

	s.invoke.Lock()

	return func() {
		s.invoke.Unlock()
		s.bk.Lock()
		s.inflight--
		s.bk.Unlock()
	}, nil
}

// GC evicts sessions that are idle (no inflight work) and haven't been
// touched in idleTTL, bounding memory for abandoned session keys.
func (h *SessionHub) GC(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for key, s := range h.sessions {
		s.bk.Lock()
		idle := s.inflight == 0 && now.Sub(s.lastTouch) > h.idleTTL
		s.bk.Unlock()
		if idle {
			delete(h.sessions, key)
		}
	}
}
