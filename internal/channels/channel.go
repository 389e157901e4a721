// Package channels implements the channel registry and multi-platform delivery
// layer: adapter contract, routing-tag parsing, message splitting, and the
// deliver-then-store ordering guarantee (spec.md §4.D).
package channels

import (
	"context"
	"fmt"

	"github.com/0x7f/microclaw/internal/store"
)

// ConversationKind distinguishes a one-on-one conversation from a group one.
type ConversationKind string

const (
	Private ConversationKind = "private"
	Group   ConversationKind = "group"
)

// ChatTypeRoute pairs a chat_type tag (as stored on a Chat row) with the
// conversation kind it implies.
type ChatTypeRoute struct {
	ChatTypeTag string
	Kind        ConversationKind
}

// DeliverySummary reports the outcome of an attachment send.
type DeliverySummary struct {
	BytesSent int
	ChunkedAs int
}

// Adapter is the polymorphic channel contract every platform integration
// implements (§4.D).
type Adapter interface {
	Name() string
	ChatTypeRoutes() []ChatTypeRoute
	IsLocalOnly() bool
	SendText(ctx context.Context, externalChatID, text string) error
	SendAttachment(ctx context.Context, externalChatID, filePath, caption string) (*DeliverySummary, error)
	MaxMessageLength() int
}

// Registry holds adapters by name and resolves chat_type routing tags.
type Registry struct {
	adapters map[string]Adapter
	routes   map[string]ChatTypeRoute // chat_type_tag -> route
	channel  map[string]string        // chat_type_tag -> adapter name
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		routes:   make(map[string]ChatTypeRoute),
		channel:  make(map[string]string),
	}
}

// Register adds an adapter and indexes its routing tags.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
	for _, route := range a.ChatTypeRoutes() {
		r.routes[route.ChatTypeTag] = route
		r.channel[route.ChatTypeTag] = a.Name()
	}
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// ParseChatRouting maps a stored chat_type tag to its channel name and
// conversation kind, per §4.D.
func (r *Registry) ParseChatRouting(chatTypeTag string) (channelName string, kind ConversationKind, ok bool) {
	route, ok := r.routes[chatTypeTag]
	if !ok {
		return "", "", false
	}
	return r.channel[chatTypeTag], route.Kind, true
}

// GetRequiredChatRouting reads chat_type from storage and resolves it,
// failing with the two canonical errors named in §4.D.
func (r *Registry) GetRequiredChatRouting(ctx context.Context, facade store.Facade, chatID store.ChatId) (Adapter, ConversationKind, error) {
	chat, err := facade.GetChat(ctx, chatID)
	if err != nil {
		return nil, "", fmt.Errorf("target chat %d not found", chatID)
	}
	if chat == nil {
		return nil, "", fmt.Errorf("target chat %d not found", chatID)
	}
	channelName, kind, ok := r.ParseChatRouting(chat.ChatType)
	if !ok {
		return nil, "", fmt.Errorf("unsupported chat type %q", chat.ChatType)
	}
	adapter, ok := r.Get(channelName)
	if !ok {
		return nil, "", fmt.Errorf("unsupported chat type %q", chat.ChatType)
	}
	return adapter, kind, nil
}

// DeliverAndStoreBotMessage looks up routing, sends via the adapter (splitting
// long text at channel-max boundaries), and only on full delivery success
// writes a StoredMessage with is_from_bot=true. Delivery failure must never
// write the message (§4.D).
func (r *Registry) DeliverAndStoreBotMessage(ctx context.Context, facade store.Facade, botSenderName string, chatID store.ChatId, text string) error {
	adapter, _, err := r.GetRequiredChatRouting(ctx, facade, chatID)
	if err != nil {
		return err
	}

	externalID, ok, err := facade.GetChatExternalID(ctx, chatID, adapter.Name())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("target chat %d not found", chatID)
	}

	for _, chunk := range SplitText(text, adapter.MaxMessageLength()) {
		if err := adapter.SendText(ctx, string(externalID), chunk); err != nil {
			return fmt.Errorf("channels: deliver to %s: %w", adapter.Name(), err)
		}
	}

	_, err = facade.StoreMessage(ctx, store.StoredMessage{
		ChatID:     chatID,
		SenderName: botSenderName,
		Content:    text,
		IsFromBot:  true,
	})
	return err
}

// EnforceChannelPolicy implements §4.D's tool-boundary check: web callers may
// never address a chat other than their own, regardless of control-chat status.
func EnforceChannelPolicy(callerChannel, callerChatID, targetChatID string) error {
	if callerChannel == "web" && targetChatID != callerChatID {
		return fmt.Errorf("Permission denied: web chats cannot operate on other chats")
	}
	return nil
}

// SplitText implements spec.md §4.D's message-splitting algorithm: walk the
// string, take up to maxLen per chunk, backtrack to the last newline in the
// window when one exists, and consume one leading newline between chunks.
func SplitText(text string, maxLen int) []string {
	if text == "" {
		return nil
	}
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		window := text[:maxLen]
		cut := maxLen
		if idx := lastNewline(window); idx >= 0 {
			cut = idx
		}
		chunks = append(chunks, text[:cut])
		rest := text[cut:]
		if len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
		text = rest
	}
	return chunks
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}
