package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"hookrelay/internal/models"
)

// SlackConfig is the channel config for Slack incoming webhooks.
type SlackConfig struct {
	WebhookURL string `json:"webhookUrl"`
}

type SlackSender struct {
	client *http.Client
}

func NewSlackSender() *SlackSender {
	return &SlackSender{client: defaultHTTPClient()}
}

func NewSlackSenderWithClient(client *http.Client) *SlackSender {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &SlackSender{client: client}
}

func (s *SlackSender) Type() models.ChannelType {
	return models.ChannelSlack
}

func (s *SlackSender) Send(ctx context.Context, config json.RawMessage, message string) (string, error) {
	var cfg SlackConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return "", fmt.Errorf("invalid slack config: %w", err)
	}
	if cfg.WebhookURL == "" {
		return "", fmt.Errorf("slack config requires webhookUrl")
	}

	body := map[string]string{"text": message}
	if err := postJSON(ctx, s.client, cfg.WebhookURL, nil, body); err != nil {
		return "", err
	}
	return "Message sent to Slack webhook", nil
}
