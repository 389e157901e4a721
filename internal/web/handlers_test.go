package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/0x7f/microclaw/internal/agent"
	"github.com/0x7f/microclaw/internal/config"
	"github.com/0x7f/microclaw/internal/store"
)

type fakeEngine struct {
	reply string
	err   error
	seen  []agent.Request
}

func (f *fakeEngine) Run(ctx context.Context, req agent.Request) (string, error) {
	f.seen = append(f.seen, req)
	if req.Sink != nil {
		req.Sink(agent.Event{Kind: agent.EventStatus, Text: "calling model"})
		req.Sink(agent.Event{Kind: agent.EventDone, Final: f.reply})
	}
	return f.reply, f.err
}

func newTestServer(t *testing.T) (*Server, *fakeEngine, store.Facade) {
	t.Helper()
	cfg := config.Default()
	cfg.WebAuthToken = ""
	facade, err := store.OpenSQLite(filepath.Join(t.TempDir(), "web_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { facade.Close() })
	engine := &fakeEngine{reply: "hello back"}
	return New(cfg, facade, engine, ""), engine, facade
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = httptest.NewRequest(method, path, bytes.NewReader(b))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func TestHealthReportsOK(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := doJSON(t, s.httpSrv.Handler, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
}

func TestSendDrivesEngineAndPersistsInboundMessage(t *testing.T) {
	s, engine, facade := newTestServer(t)
	w := doJSON(t, s.httpSrv.Handler, http.MethodPost, "/api/send", sendBody{SessionKey: "alice", Text: "hi there"})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "hello back", body["response"])
	require.Len(t, engine.seen, 1)
	require.Equal(t, "web", engine.seen[0].Context.CallerChannel)

	chatID, err := resolveSessionChatID(context.Background(), facade, "alice")
	require.NoError(t, err)
	msgs, err := facade.GetAllMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hi there", msgs[0].Content)
}

func TestSendRejectsMissingSessionKey(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := doJSON(t, s.httpSrv.Handler, http.MethodPost, "/api/send", sendBody{Text: "hi"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendStreamReturnsRunIDAndEventuallyTerminates(t *testing.T) {
	s, _, _ := newTestServer(t)
	w := doJSON(t, s.httpSrv.Handler, http.MethodPost, "/api/send_stream", sendBody{SessionKey: "carol", Text: "go"})
	require.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	runID := body["run_id"]
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		rn, ok := s.runs.Get(runID)
		if !ok {
			return false
		}
		done, _ := rn.status()
		return done
	}, time.Second, time.Millisecond)
}

func TestSessionsListsRecentChats(t *testing.T) {
	s, _, _ := newTestServer(t)
	doJSON(t, s.httpSrv.Handler, http.MethodPost, "/api/send", sendBody{SessionKey: "dana", Text: "hi"})

	w := doJSON(t, s.httpSrv.Handler, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "dana", rows[0]["session_key"])
}
