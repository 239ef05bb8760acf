package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"unicode/utf8"

	"hookrelay/internal/models"
)

const defaultTwitterAPIBase = "https://api.twitter.com"

// Twitter caps post length; longer renderings are truncated.
const maxTweetLength = 280

// TwitterConfig is the channel config for posting alerts as tweets.
type TwitterConfig struct {
	BearerToken string `json:"bearerToken"`
}

type TwitterSender struct {
	apiBase string
	client  *http.Client
}

func NewTwitterSender() *TwitterSender {
	return &TwitterSender{apiBase: defaultTwitterAPIBase, client: defaultHTTPClient()}
}

func NewTwitterSenderWithBase(apiBase string, client *http.Client) *TwitterSender {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &TwitterSender{apiBase: apiBase, client: client}
}

func (s *TwitterSender) Type() models.ChannelType {
	return models.ChannelTwitter
}

func (s *TwitterSender) Send(ctx context.Context, config json.RawMessage, message string) (string, error) {
	var cfg TwitterConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return "", fmt.Errorf("invalid twitter config: %w", err)
	}
	if cfg.BearerToken == "" {
		return "", fmt.Errorf("twitter config requires bearerToken")
	}

	text := truncate(message, maxTweetLength)
	headers := map[string]string{"Authorization": "Bearer " + cfg.BearerToken}
	body := map[string]string{"text": text}

	if err := postJSON(ctx, s.client, s.apiBase+"/2/tweets", headers, body); err != nil {
		return "", err
	}
	return "Tweet posted", nil
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-1]) + "…"
}
