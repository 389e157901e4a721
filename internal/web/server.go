package web

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/0x7f/microclaw/internal/agent"
	"github.com/0x7f/microclaw/internal/config"
	"github.com/0x7f/microclaw/internal/store"
)

// EngineRunner is the subset of agent.Engine the orchestrator drives. Tests
// substitute a fake to exercise the route table without a live provider.
type EngineRunner interface {
	Run(ctx context.Context, req agent.Request) (string, error)
}

// Server is the §4.I HTTP route table plus its run/session state.
type Server struct {
	cfg        *config.Config
	configPath string
	store      store.Facade
	engine     EngineRunner
	runs       *RunHub
	sessions   *SessionHub
	httpSrv    *http.Server
}

// New builds the web orchestrator. configPath is where PUT /api/config
// persists merged updates (§4.I); it may be empty when the server is only
// used as a read-only preview, in which case PUT /api/config fails closed.
func New(cfg *config.Config, facade store.Facade, engine EngineRunner, configPath string) *Server {
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		store:      facade,
		engine:     engine,
		runs: NewRunHub(
			cfg.WebRunHistoryLimit,
			300*time.Second,
		),
		sessions: NewSessionHub(
			time.Duration(cfg.WebRateWindowSeconds)*time.Second,
			cfg.WebMaxInflightPerSession,
			cfg.WebMaxRequestsPerWindow,
			time.Duration(cfg.WebSessionIdleTTLSeconds)*time.Second,
		),
	}
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	addr := net.JoinHostPort(cfg.WebHost, strconv.Itoa(cfg.WebPort))
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.withAuth(s.withCORS(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Publisher returns the channels.WebPublisher implementation wired to this
// server's run hub.
func (s *Server) Publisher() *Publisher { return NewPublisher(s.runs) }

// Run starts the HTTP listener and background GC loop, blocking until ctx is
// cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	gcTicker := time.NewTicker(30 * time.Second)
	defer gcTicker.Stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-gcTicker.C:
				s.runs.GC(now)
				s.sessions.GC(now)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("web.listen", "addr", s.httpSrv.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := s.httpSrv.Shutdown(shutdownCtx)
		<-done
		return err
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withAuth enforces the bearer token configured as web_auth_token. When no
// token is configured (loopback-only deployments, per §6's validation rule)
// every request is allowed.
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.WebAuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token := header[len(prefix):]
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.WebAuthToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newRunID() string { return uuid.NewString() }
