package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	coordination "dr-coordinator/internal/coordination/domain"
)

// WebhookNotifier posts event outcomes to a chat-style webhook.
type WebhookNotifier struct {
	url      string
	client   *http.Client
	template *Template
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier. tpl may be empty.
func NewWebhookNotifier(url, tpl string) (*WebhookNotifier, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("webhook notifier: empty url")
	}
	parsed, err := NewTemplate(tpl)
	if err != nil {
		return nil, err
	}
	return &WebhookNotifier{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		template: parsed,
	}, nil
}

// NotifyOutcome sends the final state of an event.
func (n *WebhookNotifier) NotifyOutcome(ctx context.Context, run coordination.Run) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	content, err := n.template.Render(DataFromRun(run))
	if err != nil {
		return err
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: strings.TrimSpace(content)},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}
