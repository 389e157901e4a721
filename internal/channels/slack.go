package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

const slackMaxMessageLength = 2000

// SlackAdapter delivers through the Slack Web API, hand-rolled over net/http
// since no Slack SDK appears anywhere in the retrieval pack.
type SlackAdapter struct {
	botToken   string
	httpClient *http.Client
}

func NewSlackAdapter(botToken string) *SlackAdapter {
	return &SlackAdapter{botToken: botToken, httpClient: &http.Client{}}
}

func (a *SlackAdapter) Name() string { return "slack" }

func (a *SlackAdapter) ChatTypeRoutes() []ChatTypeRoute {
	return []ChatTypeRoute{
		{ChatTypeTag: "slack_dm", Kind: Private},
		{ChatTypeTag: "slack_channel", Kind: Group},
	}
}

func (a *SlackAdapter) IsLocalOnly() bool     { return false }
func (a *SlackAdapter) MaxMessageLength() int { return slackMaxMessageLength }

func (a *SlackAdapter) SendText(ctx context.Context, externalChatID, text string) error {
	payload, _ := json.Marshal(map[string]string{"channel": externalChatID, "text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://slack.com/api/chat.postMessage", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.botToken)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Ok    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("slack: decode response: %w", err)
	}
	if !out.Ok {
		return fmt.Errorf("slack: post message error: %s", out.Error)
	}
	return nil
}

func (a *SlackAdapter) SendAttachment(ctx context.Context, externalChatID, filePath, caption string) (*DeliverySummary, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("slack: open attachment: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("slack: stat attachment: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("channels", externalChatID)
	if caption != "" {
		_ = writer.WriteField("initial_comment", caption)
	}
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, err
	}
	if _, err := part.ReadFrom(f); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://slack.com/api/files.upload", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.botToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: upload file: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Ok    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("slack: decode upload response: %w", err)
	}
	if !out.Ok {
		return nil, fmt.Errorf("slack: upload error: %s", out.Error)
	}

	return &DeliverySummary{BytesSent: int(info.Size()), ChunkedAs: 1}, nil
}
