// Package config loads and validates the gateway's single YAML configuration
// file (§6 of the operating spec). Unlike the teacher's managed-SaaS
// gateway.json, there is no per-agent override tree here — one process runs
// one agent identity against one set of channels.
package config

import (
	"fmt"
	"net"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// WorkingDirIsolationShared means every chat shares one working directory.
	WorkingDirIsolationShared = "shared"
	// WorkingDirIsolationChat means each chat gets its own working directory
	// under working_dir.
	WorkingDirIsolationChat = "chat"

	// SandboxModeOff means tools never run sandboxed; ExecSandboxOnly tools
	// fail closed.
	SandboxModeOff = "off"
	// SandboxModeAll selects sandboxed execution for shell/exec tool calls;
	// no sandbox backend is implemented, so it is accepted and validated only.
	SandboxModeAll = "all"
)

// Config is the root configuration for the agent gateway.
type Config struct {
	LLMProvider       string `yaml:"llm_provider"`
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	LLMBaseURL        string `yaml:"llm_base_url,omitempty"`
	MaxTokens         int    `yaml:"max_tokens"`
	MaxToolIterations int    `yaml:"max_tool_iterations"`

	DataDir             string `yaml:"data_dir"`
	WorkingDir          string `yaml:"working_dir"`
	WorkingDirIsolation string `yaml:"working_dir_isolation"`

	Database DatabaseConfig `yaml:"database,omitempty"`

	Sandbox SandboxConfig `yaml:"sandbox"`

	Timezone            string `yaml:"timezone"`
	MaxSessionMessages  int    `yaml:"max_session_messages"`
	CompactKeepRecent   int    `yaml:"compact_keep_recent"`

	WebEnabled                bool   `yaml:"web_enabled"`
	WebHost                   string `yaml:"web_host"`
	WebPort                   int    `yaml:"web_port"`
	WebAuthToken              string `yaml:"web_auth_token,omitempty"`
	WebRunHistoryLimit        int    `yaml:"web_run_history_limit"`
	WebRateWindowSeconds      int    `yaml:"web_rate_window_seconds"`
	WebMaxInflightPerSession  int    `yaml:"web_max_inflight_per_session"`
	WebMaxRequestsPerWindow   int    `yaml:"web_max_requests_per_window"`
	WebSessionIdleTTLSeconds  int    `yaml:"web_session_idle_ttl_seconds"`

	Channels map[string]ChannelConfig `yaml:"channels"`

	ReflectorEnabled      bool `yaml:"reflector_enabled"`
	ReflectorIntervalMins int  `yaml:"reflector_interval_mins"`

	ModelPrices []ModelPrice `yaml:"model_prices,omitempty"`

	McpServers map[string]*MCPServerConfig `yaml:"mcp_servers,omitempty"`

	mu sync.RWMutex
}

// SandboxConfig configures the (currently unimplemented) sandboxed execution
// backend. Mode and the rest of the fields are carried for shape and
// validation only — no runtime in this tree answers to them, so
// ExecSandboxOnly tools fail closed regardless of Mode. See DESIGN.md §B.
type SandboxConfig struct {
	Mode               string `yaml:"mode"`
	Backend            string `yaml:"backend,omitempty"`
	Image              string `yaml:"image,omitempty"`
	ContainerPrefix    string `yaml:"container_prefix,omitempty"`
	RequireRuntime     bool   `yaml:"require_runtime,omitempty"`
	MountAllowlistPath string `yaml:"mount_allowlist_path,omitempty"`
}

// DatabaseConfig selects the storage backend (§6 "database.driver"). The
// default (zero value) is the embedded sqlite backend; setting Driver to
// "postgres" switches the gateway to the pgx-backed facade for multi-instance
// deployments, mirroring the teacher's standalone/managed split.
type DatabaseConfig struct {
	Driver      string `yaml:"driver,omitempty"`
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

const DatabaseDriverPostgres = "postgres"

// ChannelConfig holds the freeform per-channel settings block (§6: "channels.
// {name}.{...}"). Each adapter pulls out the keys it understands; unknown
// keys are ignored rather than rejected, so new channels never require a
// config schema change here.
type ChannelConfig map[string]interface{}

func (c ChannelConfig) Enabled() bool {
	return c.Bool("enabled")
}

func (c ChannelConfig) String(key string) string {
	v, _ := c[key].(string)
	return v
}

func (c ChannelConfig) Bool(key string) bool {
	v, _ := c[key].(bool)
	return v
}

func (c ChannelConfig) Int(key string, fallback int) int {
	switch v := c[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func (c ChannelConfig) StringSlice(key string) []string {
	raw, ok := c[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ModelPrice lets the gateway estimate spend for a model not covered by the
// built-in pricing table, or override a stale one.
type ModelPrice struct {
	Model            string  `yaml:"model"`
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// MCPServerConfig configures one external MCP server connection (§4.E).
type MCPServerConfig struct {
	Transport  string            `yaml:"transport"`
	Command    string            `yaml:"command,omitempty"`
	Args       []string          `yaml:"args,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"`
	URL        string            `yaml:"url,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Enabled    *bool             `yaml:"enabled,omitempty"`
	ToolPrefix string            `yaml:"tool_prefix,omitempty"`
	TimeoutSec int               `yaml:"timeout_sec,omitempty"`
}

// IsEnabled returns whether this MCP server is enabled (default true).
func (c *MCPServerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate checks the config against §3/§5's invariants: a parseable
// timezone, a recognized working-dir isolation mode and sandbox mode, at
// least one configured+enabled channel (or web), and a web_auth_token
// whenever web is exposed off-loopback.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Timezone == "" {
		return fmt.Errorf("timezone is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	switch c.WorkingDirIsolation {
	case "", WorkingDirIsolationShared, WorkingDirIsolationChat:
	default:
		return fmt.Errorf("working_dir_isolation must be %q or %q, got %q",
			WorkingDirIsolationShared, WorkingDirIsolationChat, c.WorkingDirIsolation)
	}

	switch c.Sandbox.Mode {
	case "", SandboxModeOff, SandboxModeAll:
	default:
		return fmt.Errorf("sandbox.mode must be %q or %q, got %q", SandboxModeOff, SandboxModeAll, c.Sandbox.Mode)
	}

	if c.Database.Driver == DatabaseDriverPostgres && c.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required when database.driver is %q", DatabaseDriverPostgres)
	}

	anyChannel := false
	for name, ch := range c.Channels {
		if !ch.Enabled() {
			continue
		}
		if err := validateChannel(name, ch); err != nil {
			return err
		}
		anyChannel = true
	}
	if !anyChannel && !c.WebEnabled {
		return fmt.Errorf("at least one channel (or web) must be enabled and configured")
	}

	if c.WebEnabled && !isLoopbackHost(c.WebHost) && c.WebAuthToken == "" {
		return fmt.Errorf("web_auth_token is required when web is enabled on non-loopback host %q", c.WebHost)
	}

	return nil
}

// validateChannel applies the minimal per-channel shape check the gateway
// can make without loading the adapter itself: the credential fields the
// adapter will need are present when the channel is turned on.
func validateChannel(name string, ch ChannelConfig) error {
	required := map[string][]string{
		"telegram": {"token"},
		"discord":  {"token"},
		"slack":    {"bot_token"},
		"feishu":   {"app_id", "app_secret"},
	}
	fields, known := required[name]
	if !known {
		return nil
	}
	for _, f := range fields {
		if ch.String(f) == "" {
			return fmt.Errorf("channels.%s.%s is required when channels.%s.enabled is true", name, f, name)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if host == "" || host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ApplyEnvOverrides lets deployment secrets (API keys, tokens) live outside
// the checked-in config file. Env vars win over file values.
func (c *Config) ApplyEnvOverrides(lookup func(string) (string, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := lookup("MICROCLAW_API_KEY"); ok && v != "" {
		c.APIKey = v
	}
	if v, ok := lookup("MICROCLAW_WEB_AUTH_TOKEN"); ok && v != "" {
		c.WebAuthToken = v
	}
	for name, ch := range c.Channels {
		env := "MICROCLAW_CHANNEL_" + upper(name) + "_TOKEN"
		if v, ok := lookup(env); ok && v != "" {
			ch["token"] = v
		}
	}
}

// Redacted returns a JSON-serializable snapshot of the config for GET
// /api/config, with the API key, web auth token, and each channel's
// credential fields replaced by a placeholder.
func (c *Config) Redacted() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	channels := make(map[string]any, len(c.Channels))
	for name, ch := range c.Channels {
		redacted := make(ChannelConfig, len(ch))
		for k, v := range ch {
			redacted[k] = v
		}
		for _, secretKey := range []string{"token", "bot_token", "app_secret"} {
			if _, ok := redacted[secretKey]; ok {
				redacted[secretKey] = redactSecret("x")
			}
		}
		channels[name] = redacted
	}

	return map[string]any{
		"llm_provider":                 c.LLMProvider,
		"api_key":                      redactSecret(c.APIKey),
		"model":                        c.Model,
		"llm_base_url":                 c.LLMBaseURL,
		"max_tokens":                   c.MaxTokens,
		"max_tool_iterations":          c.MaxToolIterations,
		"data_dir":                     c.DataDir,
		"working_dir":                  c.WorkingDir,
		"working_dir_isolation":        c.WorkingDirIsolation,
		"database_driver":              c.Database.Driver,
		"sandbox":                      c.Sandbox,
		"timezone":                     c.Timezone,
		"max_session_messages":         c.MaxSessionMessages,
		"compact_keep_recent":          c.CompactKeepRecent,
		"web_enabled":                  c.WebEnabled,
		"web_host":                     c.WebHost,
		"web_port":                     c.WebPort,
		"web_auth_token":               redactSecret(c.WebAuthToken),
		"web_run_history_limit":        c.WebRunHistoryLimit,
		"web_rate_window_seconds":      c.WebRateWindowSeconds,
		"web_max_inflight_per_session": c.WebMaxInflightPerSession,
		"web_max_requests_per_window":  c.WebMaxRequestsPerWindow,
		"web_session_idle_ttl_seconds": c.WebSessionIdleTTLSeconds,
		"channels":                     channels,
		"reflector_enabled":            c.ReflectorEnabled,
		"reflector_interval_mins":      c.ReflectorIntervalMins,
		"model_prices":                 c.ModelPrices,
	}
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// ApplyPatch merges a partial YAML document into the config in place —
// fields the patch omits are left untouched, a map the patch names keeps its
// other keys and has each named key's value replaced, and a slice the patch
// names is replaced wholesale. Callers must call Validate afterward; it is
// not called here to avoid recursive locking.
func (c *Config) ApplyPatch(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("apply config patch: %w", err)
	}
	return nil
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}
