// Package notify posts short run reports to a Slack-compatible incoming webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type Webhook struct {
	URL    string
	client *http.Client
}

func NewWebhook(url string) *Webhook {
	return &Webhook{
		URL: url,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type payload struct {
	Text string `json:"text"`
}

// Notify posts text. A nil or URL-less Webhook is a no-op so callers can
// notify unconditionally.
func (w *Webhook) Notify(ctx context.Context, text string) error {
	if w == nil || w.URL == "" {
		return nil
	}
	body, err := json.Marshal(payload{Text: text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
