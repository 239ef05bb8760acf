package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"hookrelay/internal/models"
)

// DiscordConfig is the channel config for Discord incoming webhooks.
type DiscordConfig struct {
	WebhookURL string `json:"webhookUrl"`
}

type DiscordSender struct {
	client *http.Client
}

func NewDiscordSender() *DiscordSender {
	return &DiscordSender{client: defaultHTTPClient()}
}

func NewDiscordSenderWithClient(client *http.Client) *DiscordSender {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &DiscordSender{client: client}
}

func (s *DiscordSender) Type() models.ChannelType {
	return models.ChannelDiscord
}

func (s *DiscordSender) Send(ctx context.Context, config json.RawMessage, message string) (string, error) {
	var cfg DiscordConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return "", fmt.Errorf("invalid discord config: %w", err)
	}
	if cfg.WebhookURL == "" {
		return "", fmt.Errorf("discord config requires webhookUrl")
	}

	body := map[string]string{"content": message}
	if err := postJSON(ctx, s.client, cfg.WebhookURL, nil, body); err != nil {
		return "", err
	}
	return "Message sent to Discord webhook", nil
}
