package channels

import (
	"context"
	"fmt"
)

const webMaxMessageLength = 1 << 20

// WebPublisher pushes a bot reply onto a run's SSE stream. The web run
// orchestrator implements this and is injected into WebAdapter at startup;
// channels itself never depends on the web package.
type WebPublisher interface {
	PublishBotText(ctx context.Context, chatID string, text string) error
}

// WebAdapter is the local-only channel used for chats created by the web run
// orchestrator (§4.D: is_local_only()). It never dials an external API —
// delivery is an SSE event pushed onto the run's own stream.
type WebAdapter struct {
	publisher WebPublisher
}

func NewWebAdapter(publisher WebPublisher) *WebAdapter {
	return &WebAdapter{publisher: publisher}
}

func (a *WebAdapter) Name() string { return "web" }

func (a *WebAdapter) ChatTypeRoutes() []ChatTypeRoute {
	return []ChatTypeRoute{
		{ChatTypeTag: "web", Kind: Private},
	}
}

func (a *WebAdapter) IsLocalOnly() bool     { return true }
func (a *WebAdapter) MaxMessageLength() int { return webMaxMessageLength }

func (a *WebAdapter) SendText(ctx context.Context, externalChatID, text string) error {
	if a.publisher == nil {
		return fmt.Errorf("web: no publisher attached")
	}
	return a.publisher.PublishBotText(ctx, externalChatID, text)
}

func (a *WebAdapter) SendAttachment(ctx context.Context, externalChatID, filePath, caption string) (*DeliverySummary, error) {
	return nil, fmt.Errorf("web: attachments are not supported on the local web channel")
}
