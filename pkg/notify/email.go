package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"hookrelay/internal/models"
)

// EmailConfig is the channel config for delivery through an HTTP mail
// gateway (the SMTP hop lives behind the gateway).
type EmailConfig struct {
	GatewayURL string `json:"gatewayUrl"`
	APIKey     string `json:"apiKey,omitempty"`
	To         string `json:"to"`
	From       string `json:"from,omitempty"`
	Subject    string `json:"subject,omitempty"`
}

type EmailSender struct {
	client *http.Client
}

func NewEmailSender() *EmailSender {
	return &EmailSender{client: defaultHTTPClient()}
}

func NewEmailSenderWithClient(client *http.Client) *EmailSender {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &EmailSender{client: client}
}

func (s *EmailSender) Type() models.ChannelType {
	return models.ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, config json.RawMessage, message string) (string, error) {
	var cfg EmailConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return "", fmt.Errorf("invalid email config: %w", err)
	}
	if cfg.GatewayURL == "" || cfg.To == "" {
		return "", fmt.Errorf("email config requires gatewayUrl and to")
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "Webhook Alert"
	}

	body := map[string]string{
		"to":      cfg.To,
		"from":    cfg.From,
		"subject": subject,
		"body":    message,
	}

	var headers map[string]string
	if cfg.APIKey != "" {
		headers = map[string]string{"Authorization": "Bearer " + cfg.APIKey}
	}

	if err := postJSON(ctx, s.client, cfg.GatewayURL, headers, body); err != nil {
		return "", err
	}
	return fmt.Sprintf("Email sent to %s", cfg.To), nil
}
