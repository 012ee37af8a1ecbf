package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const webhookTimeout = 10 * time.Second

// DingTalkWebhook 通过钉钉群机器人 Webhook 发送文本消息。
type DingTalkWebhook struct {
	URL    string
	Client *http.Client
}

// Send 实现 DingTalkSender 接口。
func (w *DingTalkWebhook) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, w.client(), w.URL, payload)
}

func (w *DingTalkWebhook) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return &http.Client{Timeout: webhookTimeout}
}

// SlackWebhook 通过 Slack Incoming Webhook 发送消息。
type SlackWebhook struct {
	URL    string
	Client *http.Client
}

// Send 实现 SlackSender 接口。channel 为空时由 Webhook 自身的默认频道接收。
func (w *SlackWebhook) Send(ctx context.Context, channel, content string) error {
	payload := map[string]any{"text": content}
	if channel != "" {
		payload["channel"] = channel
	}
	return postJSON(ctx, w.client(), w.URL, payload)
}

func (w *SlackWebhook) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return &http.Client{Timeout: webhookTimeout}
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	if url == "" {
		return fmt.Errorf("webhook url 为空")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化 webhook 消息失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook 返回错误状态 %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

var (
	_ DingTalkSender = (*DingTalkWebhook)(nil)
	_ SlackSender    = (*SlackWebhook)(nil)
)
