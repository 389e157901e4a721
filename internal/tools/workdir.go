package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// IsolationPolicy selects how caller identity maps to a working directory (4.B.2).
type IsolationPolicy string

const (
	IsolationShared IsolationPolicy = "Shared"
	IsolationChat   IsolationPolicy = "Chat"
)

// ResolveWorkingDir derives the working directory a materializing tool runs in.
func ResolveWorkingDir(baseDir string, policy IsolationPolicy, callerChannel, callerChatID string) (string, error) {
	dir := baseDir
	if policy == IsolationChat {
		segment := sanitizeSegment(callerChannel) + "_" + sanitizeSegment(callerChatID)
		dir = filepath.Join(baseDir, segment)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("resolve working dir: %w", err)
	}
	return dir, nil
}

func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// ResolvePath resolves a tool-supplied relative or absolute path against base and
// rejects anything that escapes it (via ".." or an absolute path outside base).
func ResolvePath(base, path string) (string, error) {
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(base, path))
	}
	cleanBase := filepath.Clean(base)
	if resolved != cleanBase && !strings.HasPrefix(resolved, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes working directory", path)
	}
	return resolved, nil
}
