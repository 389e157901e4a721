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
	"sync"
	"time"
)

const (
	feishuMaxMessageLength = 20000
	feishuTokenEndpoint    = "/open-apis/auth/v3/tenant_access_token/internal"
	feishuTokenBuffer      = 3 * time.Minute
)

// FeishuAdapter delivers through the Feishu/Lark open-platform REST API, hand-rolled
// over net/http (no Lark SDK appears anywhere in the retrieval pack).
type FeishuAdapter struct {
	baseURL    string
	appID      string
	appSecret  string
	httpClient *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewFeishuAdapter(appID, appSecret string) *FeishuAdapter {
	return &FeishuAdapter{
		baseURL:    "https://open.feishu.cn",
		appID:      appID,
		appSecret:  appSecret,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *FeishuAdapter) Name() string { return "feishu" }

func (a *FeishuAdapter) ChatTypeRoutes() []ChatTypeRoute {
	return []ChatTypeRoute{
		{ChatTypeTag: "feishu_private", Kind: Private},
		{ChatTypeTag: "feishu_group", Kind: Group},
	}
}

func (a *FeishuAdapter) IsLocalOnly() bool     { return false }
func (a *FeishuAdapter) MaxMessageLength() int { return feishuMaxMessageLength }

func (a *FeishuAdapter) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && time.Now().Before(a.tokenExpiry) {
		return a.token, nil
	}

	body, _ := json.Marshal(map[string]string{"app_id": a.appID, "app_secret": a.appSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+feishuTokenEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("feishu: token request: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("feishu: decode token response: %w", err)
	}
	if out.Code != 0 {
		return "", fmt.Errorf("feishu: token error %d: %s", out.Code, out.Msg)
	}

	a.token = out.TenantAccessToken
	a.tokenExpiry = time.Now().Add(time.Duration(out.Expire)*time.Second - feishuTokenBuffer)
	return a.token, nil
}

func (a *FeishuAdapter) SendText(ctx context.Context, externalChatID, text string) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}

	content, _ := json.Marshal(map[string]string{"text": text})
	payload, _ := json.Marshal(map[string]string{
		"receive_id": externalChatID,
		"msg_type":   "text",
		"content":    string(content),
	})

	url := a.baseURL + "/open-apis/im/v1/messages?receive_id_type=chat_id"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("feishu: send message: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Code != 0 {
		return fmt.Errorf("feishu: send message error %d: %s", out.Code, out.Msg)
	}
	return nil
}

func (a *FeishuAdapter) SendAttachment(ctx context.Context, externalChatID, filePath, caption string) (*DeliverySummary, error) {
	token, err := a.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("feishu: open attachment: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("feishu: stat attachment: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("file_type", "stream")
	_ = writer.WriteField("file_name", filepath.Base(filePath))
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

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/open-apis/im/v1/files", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feishu: upload file: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			FileKey string `json:"file_key"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("feishu: decode upload response: %w", err)
	}
	if out.Code != 0 {
		return nil, fmt.Errorf("feishu: upload error %d: %s", out.Code, out.Msg)
	}

	content, _ := json.Marshal(map[string]string{"file_key": out.Data.FileKey})
	if caption != "" {
		if err := a.SendText(ctx, externalChatID, caption); err != nil {
			return nil, err
		}
	}
	payload, _ := json.Marshal(map[string]string{
		"receive_id": externalChatID,
		"msg_type":   "file",
		"content":    string(content),
	})
	sendReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/open-apis/im/v1/messages?receive_id_type=chat_id", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	sendReq.Header.Set("Authorization", "Bearer "+token)
	sendReq.Header.Set("Content-Type", "application/json")
	sendResp, err := a.httpClient.Do(sendReq)
	if err != nil {
		return nil, fmt.Errorf("feishu: send file message: %w", err)
	}
	defer sendResp.Body.Close()

	return &DeliverySummary{BytesSent: int(info.Size()), ChunkedAs: 1}, nil
}
