package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"hookrelay/internal/models"
)

const defaultTelegramAPIBase = "https://api.telegram.org"

// TelegramConfig is the channel config for Telegram bot delivery.
type TelegramConfig struct {
	BotToken string `json:"botToken"`
	ChatID   string `json:"chatId"`
}

type TelegramSender struct {
	apiBase string
	client  *http.Client
}

func NewTelegramSender() *TelegramSender {
	return &TelegramSender{apiBase: defaultTelegramAPIBase, client: defaultHTTPClient()}
}

// NewTelegramSenderWithBase overrides the API base URL, used in tests.
func NewTelegramSenderWithBase(apiBase string, client *http.Client) *TelegramSender {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &TelegramSender{apiBase: apiBase, client: client}
}

func (s *TelegramSender) Type() models.ChannelType {
	return models.ChannelTelegram
}

func (s *TelegramSender) Send(ctx context.Context, config json.RawMessage, message string) (string, error) {
	var cfg TelegramConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return "", fmt.Errorf("invalid telegram config: %w", err)
	}
	if cfg.BotToken == "" || cfg.ChatID == "" {
		return "", fmt.Errorf("telegram config requires botToken and chatId")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, cfg.BotToken)
	body := map[string]string{
		"chat_id":    cfg.ChatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	if err := postJSON(ctx, s.client, url, nil, body); err != nil {
		return "", err
	}
	return fmt.Sprintf("Message sent to Telegram chat %s", cfg.ChatID), nil
}
