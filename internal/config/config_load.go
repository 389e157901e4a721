package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default returns a Config with sensible defaults for every field the
// gateway needs to boot even with an empty file on disk.
func Default() *Config {
	return &Config{
		LLMProvider:         "anthropic",
		Model:               "claude-sonnet-4-5-20250929",
		MaxTokens:           8192,
		MaxToolIterations:   20,
		DataDir:             "~/.microclaw/data",
		WorkingDir:          "~/.microclaw/work",
		WorkingDirIsolation: WorkingDirIsolationShared,
		Sandbox: SandboxConfig{
			Mode: SandboxModeOff,
		},
		Timezone:             "UTC",
		MaxSessionMessages:   200,
		CompactKeepRecent:    20,
		WebHost:                  "127.0.0.1",
		WebPort:                  18790,
		WebRunHistoryLimit:       200,
		WebRateWindowSeconds:     60,
		WebMaxInflightPerSession: 2,
		WebMaxRequestsPerWindow:  30,
		WebSessionIdleTTLSeconds: 300,
		Channels:                 map[string]ChannelConfig{},
		ReflectorIntervalMins:    60,
	}
}

// Load reads the YAML config file at path, overlaying it onto Default(), and
// applies environment-variable overrides. A missing file is not an error —
// the gateway can run purely off defaults + env for local/dev use.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides(os.LookupEnv)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides(os.LookupEnv)
	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}

// DiscoverPath returns the config file path to use, in order: $MICROCLAW_CONFIG,
// ./microclaw.config.yaml, ./microclaw.config.yml, falling back to
// ~/.microclaw/config.yaml when none of those exist on disk yet.
func DiscoverPath() string {
	if v := os.Getenv("MICROCLAW_CONFIG"); v != "" {
		return v
	}
	for _, candidate := range []string{"microclaw.config.yaml", "microclaw.config.yml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ExpandHome("~/.microclaw/config.yaml")
}
