package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/0x7f/microclaw/internal/config"
	"github.com/0x7f/microclaw/internal/providers"
)

var (
	transportErrorPattern = regexp.MustCompile(`(?i)write error|read error|closed connection|timeout|broken pipe`)
	unknownToolPattern     = regexp.MustCompile(`(?i)not found|unknown tool|tool not found`)
)

// toolsCache is the TTL-bounded snapshot of one server's tool catalog.
type toolsCache struct {
	tools     map[string]mcpgo.Tool
	fetchedAt time.Time
}

// Server owns one MCP server connection: its lifecycle state, resilience
// pipeline, and tools catalog cache (§4.E).
type Server struct {
	name   string
	cfg    *config.MCPServerConfig
	ttl    time.Duration
	client *mcpclient.Client

	limiter  *limiter
	bulkhead *bulkhead
	breaker  *breaker

	mu             sync.Mutex
	state          State
	cache          toolsCache
	respawnAttempt int
}

// NewServer constructs a Server from its configuration using spec.md's
// stated resilience defaults.
func NewServer(name string, cfg *config.MCPServerConfig) *Server {
	return &Server{
		name:     name,
		cfg:      cfg,
		ttl:      DefaultToolsCacheTTL,
		limiter:  newLimiter(DefaultRateLimitPerMinute),
		bulkhead: newBulkhead(DefaultBulkheadSize, DefaultQueueWait),
		breaker:  newBreaker(DefaultBreakerThreshold, DefaultBreakerCooldown),
		state:    StateInitializing,
	}
}

func (s *Server) Name() string { return s.name }

// Connect performs the lifecycle handshake: spawn/dial, initialize,
// notifications/initialized, tools/list.
func (s *Server) Connect(ctx context.Context) error {
	client, err := s.createClient()
	if err != nil {
		return fmt.Errorf("mcp %s: create client: %w", s.name, err)
	}

	if s.cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return fmt.Errorf("mcp %s: start transport: %w", s.name, err)
		}
	}

	if err := s.initialize(ctx, client); err != nil {
		_ = client.Close()
		return err
	}

	s.mu.Lock()
	s.client = client
	s.state = StateReady
	s.mu.Unlock()

	return s.RefreshToolsCache(ctx, true)
}

func (s *Server) initialize(ctx context.Context, client *mcpclient.Client) error {
	req := mcpgo.InitializeRequest{}
	req.Params.ProtocolVersion = ProtocolVersion
	req.Params.ClientInfo = mcpgo.Implementation{Name: "microclaw", Version: "1.0.0"}
	if _, err := client.Initialize(ctx, req); err != nil {
		return fmt.Errorf("mcp %s: initialize: %w", s.name, err)
	}
	return nil
}

func (s *Server) createClient() (*mcpclient.Client, error) {
	switch s.cfg.Transport {
	case "stdio", "":
		env := make([]string, 0, len(s.cfg.Env))
		for k, v := range s.cfg.Env {
			env = append(env, k+"="+v)
		}
		return mcpclient.NewStdioMCPClient(s.cfg.Command, env, s.cfg.Args...)
	case "streamable-http":
		return mcpclient.NewStreamableHttpClient(s.cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported mcp transport %q (only stdio and streamable-http)", s.cfg.Transport)
	}
}

// RefreshToolsCache re-lists tools unless the TTL hasn't elapsed, unless force is set.
func (s *Server) RefreshToolsCache(ctx context.Context, force bool) error {
	s.mu.Lock()
	client := s.client
	fresh := !force && !s.cache.fetchedAt.IsZero() && time.Since(s.cache.fetchedAt) < s.ttl
	s.mu.Unlock()
	if fresh {
		return nil
	}

	result, err := client.ListTools(ctx, mcpgo.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("mcp %s: list tools: %w", s.name, err)
	}

	byName := make(map[string]mcpgo.Tool, len(result.Tools))
	for _, t := range result.Tools {
		byName[toolName(s.cfg.ToolPrefix, t.Name)] = t
	}

	s.mu.Lock()
	s.cache = toolsCache{tools: byName, fetchedAt: time.Now()}
	s.mu.Unlock()
	return nil
}

func toolName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

// ToolDefinitions renders the cached catalog as provider-visible defs.
func (s *Server) ToolDefinitions() []providers.ToolDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	defs := make([]providers.ToolDefinition, 0, len(s.cache.tools))
	for name, t := range s.cache.tools {
		schema, _ := t.InputSchema.(map[string]interface{})
		defs = append(defs, providers.ToolDefinition{Name: name, Description: t.Description, InputSchema: schema})
	}
	return defs
}

// CallTool runs the full resilience pipeline in front of one MCP tool
// invocation: rate-limit, bulkhead, circuit-breaker, transport send with
// respawn-on-transport-error retry, then records success/failure (§4.E).
func (s *Server) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, bool, error) {
	if !s.limiter.allow() {
		return "", false, fmt.Errorf("mcp %s: rate limited, retry after the current minute window", s.name)
	}

	release, err := s.bulkhead.acquire(ctx)
	if err != nil {
		return "", false, fmt.Errorf("mcp %s: bulkhead rejected: %w", s.name, err)
	}
	defer release()

	if err := s.breaker.allowRequest(); err != nil {
		return "", false, fmt.Errorf("mcp %s: %w", s.name, err)
	}

	originalName := s.originalName(name)
	text, isError, err := s.sendWithRetry(ctx, name, originalName, args, 0)
	if err != nil {
		s.breaker.recordFailure()
		return "", false, err
	}
	s.breaker.recordSuccess()
	return text, isError, nil
}

func (s *Server) originalName(name string) string {
	s.mu.Lock()
	t, ok := s.cache.tools[name]
	s.mu.Unlock()
	if ok {
		return t.Name
	}
	return strings.TrimPrefix(name, s.cfg.ToolPrefix+"_")
}

func (s *Server) sendWithRetry(ctx context.Context, name, originalName string, args map[string]interface{}, attempt int) (string, bool, error) {
	s.setState(StateRequesting)
	defer s.setState(StateReady)

	req := mcpgo.CallToolRequest{}
	req.Params.Name = originalName
	req.Params.Arguments = args

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	result, err := client.CallTool(ctx, req)
	if err == nil {
		return flattenContent(result), result.IsError, nil
	}

	if unknownToolPattern.MatchString(err.Error()) && attempt == 0 {
		if refreshErr := s.RefreshToolsCache(ctx, true); refreshErr == nil {
			return s.sendWithRetry(ctx, name, s.originalName(name), args, attempt+1)
		}
	}

	if transportErrorPattern.MatchString(err.Error()) && attempt < DefaultMaxRetries {
		backoff := respawnBackoff(attempt)
		slog.Warn("mcp.server.respawning", "server", s.name, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
		if respawnErr := s.respawn(ctx); respawnErr != nil {
			return "", false, fmt.Errorf("mcp %s: respawn failed: %w", s.name, respawnErr)
		}
		return s.sendWithRetry(ctx, name, originalName, args, attempt+1)
	}

	return "", false, fmt.Errorf("mcp %s: call_tool %s: %w", s.name, originalName, err)
}

func (s *Server) respawn(ctx context.Context) error {
	s.mu.Lock()
	old := s.client
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	client, err := s.createClient()
	if err != nil {
		return err
	}
	if s.cfg.Transport != "stdio" {
		if err := client.Start(ctx); err != nil {
			_ = client.Close()
			return err
		}
	}
	if err := s.initialize(ctx, client); err != nil {
		_ = client.Close()
		return err
	}

	s.mu.Lock()
	s.client = client
	s.respawnAttempt++
	s.mu.Unlock()
	return nil
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func flattenContent(result *mcpgo.CallToolResult) string {
	if result == nil {
		return ""
	}
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := mcpgo.AsTextContent(c); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}
