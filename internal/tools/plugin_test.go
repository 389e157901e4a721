package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPluginToolSubstitutesVariablesAndQuotesThem(t *testing.T) {
	tool := &PluginTool{manifest: pluginManifest{
		Name: "echoer",
		Run:  struct {
			Command string `yaml:"command"`
			Timeout int    `yaml:"timeout_secs"`
		}{Command: "echo {{greeting}}"},
	}}

	result := tool.Execute(context.Background(), []byte(`{"greeting":"it's me"}`), AuthContext{CallerChannel: "web", CallerChatID: "1"})

	require.False(t, result.IsError)
	require.Contains(t, result.Content, "it's me")
}

func TestPluginToolFailsOnMissingVariable(t *testing.T) {
	tool := &PluginTool{manifest: pluginManifest{
		Name: "echoer",
		Run:  struct {
			Command string `yaml:"command"`
			Timeout int    `yaml:"timeout_secs"`
		}{Command: "echo {{missing_var}}"},
	}}

	result := tool.Execute(context.Background(), []byte(`{}`), AuthContext{})

	require.True(t, result.IsError)
	require.Equal(t, ErrorTypePluginTemplate, result.ErrorType)
}

func TestShellQuoteEscapesEmbeddedQuotes(t *testing.T) {
	quoted := shellQuote("it's a test")
	require.Equal(t, `'it'\''s a test'`, quoted)
}
