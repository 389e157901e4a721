package web

import (
	"context"
	"strings"
)

// Publisher implements channels.WebPublisher: it pushes a bot-initiated
// message (delivered via the send_message tool, or a scheduled run) onto the
// target session's open SSE stream, if any is currently subscribed.
type Publisher struct {
	hub *RunHub
}

func NewPublisher(hub *RunHub) *Publisher {
	return &Publisher{hub: hub}
}

// PublishBotText receives the chat_external_ids value registered for the
// "web" channel ("web:{session_key}", per resolveSessionChatID), and maps it
// back to the bare session_key RunHub.bySession is keyed by.
func (p *Publisher) PublishBotText(ctx context.Context, chatID string, text string) error {
	sessionKey := strings.TrimPrefix(chatID, "web:")
	p.hub.PublishToSession(sessionKey, text)
	return nil
}
