package channels

import (
	"context"
	"fmt"
	"os"

	"github.com/bwmarrin/discordgo"
)

const discordMaxMessageLength = 2000

// DiscordAdapter delivers through the Discord REST API via discordgo.
type DiscordAdapter struct {
	session *discordgo.Session
}

func NewDiscordAdapter(token string) (*DiscordAdapter, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &DiscordAdapter{session: session}, nil
}

func (a *DiscordAdapter) Name() string { return "discord" }

func (a *DiscordAdapter) ChatTypeRoutes() []ChatTypeRoute {
	return []ChatTypeRoute{
		{ChatTypeTag: "discord_dm", Kind: Private},
		{ChatTypeTag: "discord_channel", Kind: Group},
	}
}

func (a *DiscordAdapter) IsLocalOnly() bool     { return false }
func (a *DiscordAdapter) MaxMessageLength() int { return discordMaxMessageLength }

func (a *DiscordAdapter) SendText(ctx context.Context, externalChatID, text string) error {
	_, err := a.session.ChannelMessageSend(externalChatID, text, discordgo.WithContext(ctx))
	return err
}

func (a *DiscordAdapter) SendAttachment(ctx context.Context, externalChatID, filePath, caption string) (*DeliverySummary, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("discord: open attachment: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("discord: stat attachment: %w", err)
	}

	_, err = a.session.ChannelMessageSendComplex(externalChatID, &discordgo.MessageSend{
		Content: caption,
		Files:   []*discordgo.File{{Name: info.Name(), Reader: f}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord: send file: %w", err)
	}
	return &DeliverySummary{BytesSent: int(info.Size()), ChunkedAs: 1}, nil
}
