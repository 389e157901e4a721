package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeHook(t *testing.T, dir, name, frontmatter string) {
	t.Helper()
	hookDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(hookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "HOOK.md"), []byte(frontmatter), 0o644))
}

func TestDiscoverParsesFrontmatterAndRunsAllow(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "noop", "---\nevents: [BeforeLLMCall]\ncommand: \"true\"\n---\nbody\n")

	mgr, err := Discover(dir, filepath.Join(dir, "hooks_state.json"), nil)
	require.NoError(t, err)

	outcome, err := mgr.Run(context.Background(), BeforeLLMCall, map[string]interface{}{"iteration": 1})
	require.NoError(t, err)
	require.Equal(t, ActionAllow, outcome.Action)
}

func TestRunStopsChainOnBlock(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "blocker", "---\nevents: [BeforeToolCall]\npriority: 1\ncommand: \"echo '{\\\"action\\\":\\\"block\\\",\\\"reason\\\":\\\"nope\\\"}'\"\n---\n")
	writeHook(t, dir, "zzz-never-runs", "---\nevents: [BeforeToolCall]\npriority: 2\ncommand: \"echo '{\\\"action\\\":\\\"block\\\",\\\"reason\\\":\\\"should not run\\\"}'\"\n---\n")

	mgr, err := Discover(dir, filepath.Join(dir, "hooks_state.json"), nil)
	require.NoError(t, err)

	outcome, err := mgr.Run(context.Background(), BeforeToolCall, nil)
	require.NoError(t, err)
	require.Equal(t, ActionBlock, outcome.Action)
	require.Equal(t, "nope", outcome.Reason)
}

func TestDisabledHookIsSkipped(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "blocker", "---\nevents: [BeforeToolCall]\nenabled: false\ncommand: \"echo '{\\\"action\\\":\\\"block\\\"}'\"\n---\n")

	mgr, err := Discover(dir, filepath.Join(dir, "hooks_state.json"), nil)
	require.NoError(t, err)

	outcome, err := mgr.Run(context.Background(), BeforeToolCall, nil)
	require.NoError(t, err)
	require.Equal(t, ActionAllow, outcome.Action)
}

func TestEmptyStdoutMeansAllow(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "silent", "---\nevents: [AfterToolCall]\ncommand: \"true\"\n---\n")

	mgr, err := Discover(dir, filepath.Join(dir, "hooks_state.json"), nil)
	require.NoError(t, err)

	outcome, err := mgr.Run(context.Background(), AfterToolCall, nil)
	require.NoError(t, err)
	require.Equal(t, ActionAllow, outcome.Action)
}
