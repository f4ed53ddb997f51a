package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// webhookPayload mirrors the teacher's webhookPayload shape: a "text" field
// for Slack/Discord-compatible incoming webhooks, plus structured fields
// for custom integrations.
type webhookPayload struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Body      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

type webhookSender struct {
	client *http.Client
	url    string
	secret string
}

func newWebhookSender(url, secret string) *webhookSender {
	return &webhookSender{client: &http.Client{Timeout: 10 * time.Second}, url: url, secret: secret}
}

func (s *webhookSender) Send(ctx context.Context, level, title, body string) error {
	if s.url == "" {
		return nil
	}

	data, err := json.Marshal(webhookPayload{
		Type:      level,
		Title:     title,
		Body:      body,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("notifier: failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("notifier: failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "tmserviced-webhook/1.0")

	if s.secret != "" {
		req.Header.Set("X-Tmservice-Signature", "sha256="+hmacSHA256(data, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notifier: webhook returned non-2xx status %d", resp.StatusCode)
	}
	return nil
}

func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
