package web

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/0x7f/microclaw/internal/store"
)

const (
	webChatType    = "web"
	webChannelName = "web"
)

// resolveSessionChatID maps a session_key (§4.I "session identity") to a
// ChatId. A "chat:{i64}" prefix passes the numeric id straight through,
// letting a web client address an existing chat created by another channel
// (e.g. for a shared admin console). Any other string is routed through the
// facade's existing external-id resolver under a "web:" external id, which
// already assigns a stable ChatId per distinct external id — so there is no
// need to hand-roll the hash-based scheme the identity model describes.
func resolveSessionChatID(ctx context.Context, facade store.Facade, sessionKey string) (store.ChatId, error) {
	if rest, ok := strings.CutPrefix(sessionKey, "chat:"); ok {
		n, err := strconv.ParseInt(rest, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid session_key %q: %w", sessionKey, err)
		}
		return store.ChatId(n), nil
	}
	return facade.ResolveOrCreateChatID(ctx, webChatType, webChannelName, store.ExternalChatId("web:"+sessionKey), sessionKey)
}
