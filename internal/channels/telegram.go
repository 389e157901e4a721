package channels

import (
	"context"
	"fmt"
	"os"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const telegramMaxMessageLength = 4096

// TelegramAdapter delivers through the Telegram Bot API; it only sends and
// does not receive updates.
type TelegramAdapter struct {
	bot *telego.Bot
}

// NewTelegramAdapter constructs a bot client from a token (§6, wire: channel adapters).
func NewTelegramAdapter(token string) (*TelegramAdapter, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	return &TelegramAdapter{bot: bot}, nil
}

func (a *TelegramAdapter) Name() string { return "telegram" }

func (a *TelegramAdapter) ChatTypeRoutes() []ChatTypeRoute {
	return []ChatTypeRoute{
		{ChatTypeTag: "telegram_private", Kind: Private},
		{ChatTypeTag: "telegram_group", Kind: Group},
	}
}

func (a *TelegramAdapter) IsLocalOnly() bool     { return false }
func (a *TelegramAdapter) MaxMessageLength() int { return telegramMaxMessageLength }

func (a *TelegramAdapter) SendText(ctx context.Context, externalChatID, text string) error {
	var chatID int64
	if _, err := fmt.Sscanf(externalChatID, "%d", &chatID); err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", externalChatID, err)
	}
	_, err := a.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	return err
}

func (a *TelegramAdapter) SendAttachment(ctx context.Context, externalChatID, filePath, caption string) (*DeliverySummary, error) {
	var chatID int64
	if _, err := fmt.Sscanf(externalChatID, "%d", &chatID); err != nil {
		return nil, fmt.Errorf("telegram: invalid chat id %q: %w", externalChatID, err)
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("telegram: open attachment: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("telegram: stat attachment: %w", err)
	}

	doc := tu.Document(tu.ID(chatID), tu.File(f))
	doc.Caption = caption
	if _, err := a.bot.SendDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("telegram: send document: %w", err)
	}
	return &DeliverySummary{BytesSent: int(info.Size()), ChunkedAs: 1}, nil
}
