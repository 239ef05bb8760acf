// Package notify implements the channel sender capability: one thin
// HTTP client per notification channel type. Senders receive the
// channel's decoded config and an already-rendered message; they return
// a human-readable diagnostic on success and an error on failure.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hookrelay/internal/constants"
	"hookrelay/internal/models"
)

// Sender attempts delivery of a rendered message to one channel.
type Sender interface {
	Type() models.ChannelType
	Send(ctx context.Context, config json.RawMessage, message string) (string, error)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: constants.DefaultSendTimeoutSec * time.Second}
}

// postJSON posts a JSON body and checks for a 2xx response. The response
// body is read (truncated) so error diagnostics carry the remote answer.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
