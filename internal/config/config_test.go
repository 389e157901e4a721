package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Channels["telegram"] = ChannelConfig{"enabled": true, "token": "t"}
	return cfg
}

func TestValidateRejectsBadTimezone(t *testing.T) {
	cfg := validConfig()
	cfg.Timezone = "Not/A_Zone"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownWorkingDirIsolation(t *testing.T) {
	cfg := validConfig()
	cfg.WorkingDirIsolation = "weird"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownSandboxMode(t *testing.T) {
	cfg := validConfig()
	cfg.Sandbox.Mode = "non-main"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresAtLeastOneChannelOrWeb(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.WebEnabled = true
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsEnabledChannelMissingCredentials(t *testing.T) {
	cfg := Default()
	cfg.Channels["telegram"] = ChannelConfig{"enabled": true}
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresWebAuthTokenOffLoopback(t *testing.T) {
	cfg := validConfig()
	cfg.WebEnabled = true
	cfg.WebHost = "0.0.0.0"
	require.Error(t, cfg.Validate())

	cfg.WebAuthToken = "secret"
	require.NoError(t, cfg.Validate())
}

func TestValidateAllowsWebOnLoopbackWithoutToken(t *testing.T) {
	cfg := validConfig()
	cfg.WebEnabled = true
	cfg.WebHost = "127.0.0.1"
	require.NoError(t, cfg.Validate())
}
