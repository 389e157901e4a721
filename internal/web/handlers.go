package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/0x7f/microclaw/internal/agent"
	"github.com/0x7f/microclaw/internal/config"
	"github.com/0x7f/microclaw/internal/store"
)

const serverVersion = "0.1.0"

const (
	defaultHistoryLimit = 50
	defaultSessionLimit = 50
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleGetConfig)
	mux.HandleFunc("PUT /api/config", s.handlePutConfig)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("POST /api/send", s.handleSend)
	mux.HandleFunc("POST /api/send_stream", s.handleSendStream)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	mux.HandleFunc("GET /api/run_status", s.handleRunStatus)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("POST /api/delete_session", s.handleDeleteSession)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": serverVersion})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Redacted())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if s.configPath == "" {
		writeError(w, http.StatusServiceUnavailable, "config is not persistable on this server")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}
	defer r.Body.Close()

	if err := s.cfg.ApplyPatch(body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := config.Save(s.configPath, s.cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "save config: "+err.Error())
		return
	}

	_ = s.store.AppendAuditEvent(r.Context(), store.AuditEvent{
		ActorKind: "user",
		ActorID:   "web",
		Action:    "config.update",
		Status:    "ok",
		Timestamp: time.Now().UTC(),
	})

	writeJSON(w, http.StatusOK, s.cfg.Redacted())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	ctx := r.Context()
	chats, err := s.store.ListChats(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(chats))
	for _, c := range chats {
		sessionKey := fmt.Sprintf("chat:%d", c.ChatID)
		if ext, ok, _ := s.store.GetChatExternalID(ctx, c.ChatID, webChannelName); ok {
			sessionKey = strings.TrimPrefix(string(ext), "web:")
		}
		out = append(out, map[string]any{
			"session_key":          sessionKey,
			"label":                c.Title,
			"chat_id":              int64(c.ChatID),
			"chat_type":            c.ChatType,
			"last_message_time":    c.LastMessageTime,
			"last_message_preview": c.LastMessagePreview,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionKey := r.URL.Query().Get("session_key")
	if sessionKey == "" {
		writeError(w, http.StatusBadRequest, "session_key is required")
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	ctx := r.Context()
	chatID, err := resolveSessionChatID(ctx, s.store, sessionKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msgs, err := s.store.GetRecentMessages(ctx, chatID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	sessionKey := r.URL.Query().Get("session_key")
	if sessionKey == "" {
		writeError(w, http.StatusBadRequest, "session_key is required")
		return
	}
	ctx := r.Context()
	chatID, err := resolveSessionChatID(ctx, s.store, sessionKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.store.GetUsageSummary(ctx, chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type sendBody struct {
	SessionKey string `json:"session_key"`
	Text       string `json:"text"`
}

// prepareSend resolves the target chat, persists the inbound user message
// (agent.Engine.Run never does this itself — §4.G's history builder only
// picks up messages already in the store), and determines the chat's type
// for the request context.
func (s *Server) prepareSend(ctx context.Context, body sendBody) (store.ChatId, string, error) {
	if body.SessionKey == "" || body.Text == "" {
		return 0, "", fmt.Errorf("session_key and text are required")
	}
	chatID, err := resolveSessionChatID(ctx, s.store, body.SessionKey)
	if err != nil {
		return 0, "", err
	}
	if _, err := s.store.StoreMessage(ctx, store.StoredMessage{
		ChatID:     chatID,
		SenderName: "web",
		Content:    body.Text,
		IsFromBot:  false,
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		return 0, "", fmt.Errorf("store inbound message: %w", err)
	}
	chatType := webChatType
	if chat, err := s.store.GetChat(ctx, chatID); err == nil && chat != nil && chat.ChatType != "" {
		chatType = chat.ChatType
	}
	return chatID, chatType, nil
}

func (s *Server) acquireSession(w http.ResponseWriter, sessionKey string) (release func(), ok bool) {
	release, err := s.sessions.Acquire(sessionKey)
	if err != nil {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return nil, false
	}
	return release, true
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	release, ok := s.acquireSession(w, body.SessionKey)
	if !ok {
		return
	}
	defer release()

	ctx := r.Context()
	chatID, chatType, err := s.prepareSend(ctx, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	text, err := s.engine.Run(ctx, agent.Request{
		Context: agent.RequestContext{CallerChannel: "web", ChatID: chatID, ChatType: chatType},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": text})
}

func (s *Server) handleSendStream(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	release, ok := s.acquireSession(w, body.SessionKey)
	if !ok {
		return
	}

	ctx := r.Context()
	chatID, chatType, err := s.prepareSend(ctx, body)
	if err != nil {
		release()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runID := newRunID()
	rn := s.runs.Create(runID, body.SessionKey)

	go func() {
		defer release()
		text, err := s.engine.Run(context.Background(), agent.Request{
			Context: agent.RequestContext{CallerChannel: "web", ChatID: chatID, ChatType: chatType},
			Sink:    runSink(rn),
		})
		if err != nil && !runReachedTerminal(rn) {
			rn.publish("error", map[string]any{"error": err.Error()})
		}
		_ = text // final text is also delivered via the "done" event
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

// runSink translates agent.Event into the run's numbered event stream.
func runSink(rn *run) agent.Sink {
	return func(ev agent.Event) {
		switch ev.Kind {
		case agent.EventStatus:
			rn.publish("status", map[string]any{"text": ev.Text})
		case agent.EventTextDelta:
			rn.publish("delta", map[string]any{"text": ev.Text})
		case agent.EventToolStart:
			rn.publish("tool_start", map[string]any{"tool_name": ev.ToolName, "tool_use_id": ev.ToolUseID})
		case agent.EventToolResult:
			rn.publish("tool_result", map[string]any{
				"tool_name":   ev.ToolName,
				"tool_use_id": ev.ToolUseID,
				"result":      ev.ToolResult,
				"is_error":    ev.IsError,
			})
		case agent.EventDone:
			rn.publish("done", map[string]any{"response": ev.Final})
		case agent.EventError:
			rn.publish("error", map[string]any{"error": ev.Err})
		}
	}
}

func runReachedTerminal(rn *run) bool {
	done, _ := rn.status()
	return done
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id is required")
		return
	}
	rn, ok := s.runs.Get(runID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown run_id")
		return
	}
	done, lastID := rn.status()
	writeJSON(w, http.StatusOK, map[string]any{"done": done, "last_event_id": lastID})
}

type sessionKeyBody struct {
	SessionKey string `json:"session_key"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var body sessionKeyBody
	if err := decodeJSON(r, &body); err != nil || body.SessionKey == "" {
		writeError(w, http.StatusBadRequest, "session_key is required")
		return
	}
	ctx := r.Context()
	chatID, err := resolveSessionChatID(ctx, s.store, body.SessionKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chat != nil && chat.ChatType == webChatType {
		if err := s.store.DeleteChatData(ctx, chatID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if _, err := resolveSessionChatID(ctx, s.store, body.SessionKey); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else if err := s.store.DeleteSession(ctx, chatID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	var body sessionKeyBody
	if err := decodeJSON(r, &body); err != nil || body.SessionKey == "" {
		writeError(w, http.StatusBadRequest, "session_key is required")
		return
	}
	ctx := r.Context()
	chatID, err := resolveSessionChatID(ctx, s.store, body.SessionKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteChatData(ctx, chatID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
