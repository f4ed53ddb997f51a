package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// slackSender posts to a Slack incoming-webhook URL. Slack's incoming
// webhook format only needs a top-level "text" field, so this stays a thin
// sibling of webhookSender rather than sharing its richer payload shape.
type slackSender struct {
	client *http.Client
	url    string
}

func newSlackSender(url string) *slackSender {
	return &slackSender{client: &http.Client{Timeout: 10 * time.Second}, url: url}
}

func (s *slackSender) Send(ctx context.Context, title, body string) error {
	if s.url == "" {
		return nil
	}

	data, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: fmt.Sprintf("*%s*\n%s", title, body)})
	if err != nil {
		return fmt.Errorf("notifier: failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("notifier: failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifier: slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notifier: slack returned non-2xx status %d", resp.StatusCode)
	}
	return nil
}
