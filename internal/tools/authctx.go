package tools

import "context"

// AuthContext is the synthetic __microclaw_auth field the agent engine injects
// into every tool invocation (4.B.3).
type AuthContext struct {
	CallerChannel  string
	CallerChatID   string
	ControlChatIDs []string
}

// CanTarget reports whether the caller may address targetChatID: its own chat,
// or any chat if the caller's chat is a control chat. Web callers are further
// restricted to their own chat regardless of control-chat status.
func (a AuthContext) CanTarget(targetChatID string) bool {
	if targetChatID == a.CallerChatID {
		return true
	}
	if a.CallerChannel == "web" {
		return false
	}
	for _, id := range a.ControlChatIDs {
		if id == a.CallerChatID {
			return true
		}
	}
	return false
}

type toolCtxKey string

const ctxAuth toolCtxKey = "microclaw_auth"

func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, ctxAuth, auth)
}

func AuthFromContext(ctx context.Context) AuthContext {
	a, _ := ctx.Value(ctxAuth).(AuthContext)
	return a
}

const ctxWorkdir toolCtxKey = "microclaw_workdir"

// WithWorkingDir injects the resolved working directory (4.B.2) for a single execution.
func WithWorkingDir(ctx context.Context, dir string) context.Context {
	return context.WithValue(ctx, ctxWorkdir, dir)
}

func WorkingDirFromContext(ctx context.Context) string {
	d, _ := ctx.Value(ctxWorkdir).(string)
	return d
}
