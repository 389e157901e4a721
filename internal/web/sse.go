package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const sseKeepaliveInterval = 15 * time.Second

// writeSSEEvent writes one `id:`/`event:`/`data:` frame and flushes it.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, id uint64, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// handleStream implements GET /api/stream?run_id&last_event_id?: the replay
// prelude, retained backlog, and live subscription described by §4.I's
// replay contract.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	var lastEventID uint64
	if raw := r.URL.Query().Get("last_event_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid last_event_id")
			return
		}
		lastEventID = n
	}

	rn, ok := s.runs.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run_id")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	meta, backlog, live := rn.subscribe(lastEventID)
	if err := writeSSEEvent(w, flusher, 0, "replay_meta", meta); err != nil {
		return
	}
	for _, ev := range backlog {
		if err := writeSSEEvent(w, flusher, ev.ID, ev.Kind, ev.Payload); err != nil {
			if live != nil {
				rn.unsubscribe(live)
			}
			return
		}
	}
	if live == nil {
		return // run already terminated; replay is the entire stream
	}
	defer rn.unsubscribe(live)

	ctx := r.Context()
	ticker := time.NewTicker(sseKeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, flusher, ev.ID, ev.Kind, ev.Payload); err != nil {
				return
			}
			if ev.Kind == "done" || ev.Kind == "error" {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
