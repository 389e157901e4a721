package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEditFileFailsWhenOldStringAbsent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	tool := NewEditFileTool(dir, IsolationShared)
	input, _ := json.Marshal(map[string]any{"path": "a.txt", "old_string": "missing", "new_string": "x"})
	result := tool.Execute(context.Background(), input, AuthContext{})

	require.True(t, result.IsError)
	require.Contains(t, result.Content, "not found")
}

func TestEditFileFailsWhenOldStringNotUnique(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("foo foo"), 0o644))

	tool := NewEditFileTool(dir, IsolationShared)
	input, _ := json.Marshal(map[string]any{"path": "a.txt", "old_string": "foo", "new_string": "bar"})
	result := tool.Execute(context.Background(), input, AuthContext{})

	require.True(t, result.IsError)
	require.Contains(t, result.Content, "must be unique")
}

func TestEditFileReplacesSingleOccurrence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	tool := NewEditFileTool(dir, IsolationShared)
	input, _ := json.Marshal(map[string]any{"path": "a.txt", "old_string": "world", "new_string": "there"})
	result := tool.Execute(context.Background(), input, AuthContext{})

	require.False(t, result.IsError)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello there", string(data))
}

func TestResolvePathRejectsEscape(t *testing.T) {
	_, err := ResolvePath("/workspace/chat1", "../chat2/secret.txt")
	require.Error(t, err)
}

func TestResolvePathAllowsNestedRelative(t *testing.T) {
	resolved, err := ResolvePath("/workspace/chat1", "notes/todo.txt")
	require.NoError(t, err)
	require.Equal(t, "/workspace/chat1/notes/todo.txt", resolved)
}
